package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.dev/internal/audit"
	"tessera.dev/internal/auth"
	"tessera.dev/internal/config"
	"tessera.dev/internal/httpapi"
	"tessera.dev/internal/obs"
	"tessera.dev/internal/store/pg"
	"tessera.dev/internal/tenant"
)

var version = "0.3.1"

const sweepInterval = time.Hour

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		obs.Log("fatal", "load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		obs.Log("fatal", "open store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	svc, err := auth.NewService(store, cfg.TokenSecret,
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithLockPolicy(auth.LockPolicy{Threshold: cfg.LockThreshold, Duration: cfg.LockDuration}),
		auth.WithCache(auth.NewMemoryCache()),
	)
	if err != nil {
		obs.Log("fatal", "build auth service", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	dispatcher := audit.NewDispatcher(cfg.AuditQueueDepth)
	defer dispatcher.Close()

	api := httpapi.New(httpapi.Config{
		Service:            svc,
		Store:              store,
		Binder:             tenant.NewBinder(store.DB()),
		Audit:              dispatcher,
		DB:                 store.DB(),
		Version:            version,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		LoginRatePerSecond: cfg.LoginRatePerSecond,
		LoginRateBurst:     cfg.LoginRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired refresh rows are dead weight once past their window; sweep them
	// in the background.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := svc.SweepExpired(rootCtx)
				if err != nil {
					obs.Log("error", "sweep expired tokens", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					obs.Log("info", "swept expired tokens", map[string]any{"count": n})
				}
			}
		}
	}()

	go func() {
		obs.Log("info", "starting tessera-api", map[string]any{
			"version": version,
			"addr":    cfg.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Log("fatal", "listen", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.Log("info", "shutting down", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	obs.Log("info", "stopped", nil)
}
