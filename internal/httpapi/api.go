package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tessera.dev/internal/audit"
	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
	"tessera.dev/internal/tenant"
)

// ScopedStore is the store shape the API needs: the aggregate interfaces plus
// the ability to re-root them onto a tenant-bound connection.
type ScopedStore interface {
	auth.Store
	Scoped(q auth.Querier) auth.Store
}

// Config wires the API's collaborators.
type Config struct {
	Service *auth.Service
	Store   ScopedStore
	// Binder is optional; without it requests run over the unscoped pool.
	Binder *tenant.Binder
	// Audit is optional; a nil dispatcher drops events silently.
	Audit *audit.Dispatcher
	// DB backs the readiness probe; may be nil.
	DB *sql.DB

	Version            string
	MaxBodyBytes       int64
	LoginRatePerSecond int
	LoginRateBurst     int
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	svc     *auth.Service
	store   ScopedStore
	binder  *tenant.Binder
	auditor *audit.Dispatcher
	db      *sql.DB
	version string
}

// New constructs the API and mounts all routes.
func New(cfg Config) *API {
	a := &API{
		svc:     cfg.Service,
		store:   cfg.Store,
		binder:  cfg.Binder,
		auditor: cfg.Audit,
		db:      cfg.DB,
		version: cfg.Version,
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	perSecond, burst := cfg.LoginRatePerSecond, cfg.LoginRateBurst
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	limited := func(next http.Handler) http.Handler {
		return RateLimit(next, perSecond, burst)
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(func(next http.Handler) http.Handler {
		return MaxBodyBytes(next, maxBody)
	})

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Get("/v1/info", a.handleInfo)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		// The credential endpoints carry the bcrypt and lockout cost, so they
		// sit behind the per-IP limiter.
		r.With(limited).Post("/register", a.handleRegister)
		r.With(limited).Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Get("/me", a.handleMe)
			r.Post("/logout", a.handleLogout)
			r.Post("/logout-all", a.handleLogoutAll)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withAuth, a.withTenant)

		r.Route("/tenants", func(r chi.Router) {
			r.With(a.requirePerms(auth.RequireAny("tenants:read:all"))).Get("/", a.handleListTenants)
			r.With(a.requirePerms(auth.RequireAny("tenants:read:all"))).Get("/{tenantID}", a.handleGetTenant)
			r.With(a.requirePerms(auth.RequireAny("tenants:create:all"))).Post("/", a.handleCreateTenant)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.With(a.requirePerms(auth.RequireAny("users:create:all", "users:create:own"))).
				Post("/", a.handleCreateUser)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", a.handleGetUser)
				r.With(a.requirePerms(auth.RequireAny("users:delete:all", "users:delete:own"))).
					Delete("/", a.handleDeleteUser)
				r.With(a.requirePerms(auth.RequireAny("users:update:all", "users:update:own"))).
					Put("/role", a.handleAssignRole)
				r.With(a.requirePerms(auth.RequireAll("users:update:all", "roles:update:all"))).
					Put("/overrides", a.handleSetOverrides)
				r.With(a.requirePerms(auth.RequireAny("users:update:all", "users:update:own"))).
					Post("/revoke-tokens", a.handleAdminRevokeTokens)
			})
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.With(a.requirePerms(auth.RequireAny("roles:create:all", "roles:create:own"))).
				Post("/", a.handleCreateRole)
		})
	})

	a.router = r
	return a
}

// Handler returns the root handler wrapped with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) audit(ctx context.Context, name string, fields map[string]any) {
	actorID, tenantID := "", ""
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		actorID = principal.UserID
		if principal.TenantID != nil {
			tenantID = *principal.TenantID
		}
	}
	a.auditor.Emit(ctx, name, actorID, tenantID, fields)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tessera",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tessera",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
