package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting. Values are read from TESSERA_* env vars;
// the defaults match the documented auth policy and can be tuned per deploy.
type Config struct {
	Addr        string `env:"TESSERA_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"TESSERA_PG_DSN"`

	TokenSecret string        `env:"TESSERA_TOKEN_SECRET"`
	TokenIssuer string        `env:"TESSERA_TOKEN_ISSUER" envDefault:"tessera"`
	AccessTTL   time.Duration `env:"TESSERA_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL  time.Duration `env:"TESSERA_REFRESH_TTL" envDefault:"168h"`

	LockThreshold int           `env:"TESSERA_LOCK_THRESHOLD" envDefault:"5"`
	LockDuration  time.Duration `env:"TESSERA_LOCK_DURATION" envDefault:"15m"`

	LoginRatePerSecond int `env:"TESSERA_LOGIN_RATE" envDefault:"5"`
	LoginRateBurst     int `env:"TESSERA_LOGIN_BURST" envDefault:"10"`

	AuditQueueDepth int `env:"TESSERA_AUDIT_QUEUE" envDefault:"256"`

	MaxBodyBytes int64 `env:"TESSERA_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TESSERA_TOKEN_SECRET is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("refresh lifetime must exceed access lifetime")
	}
	if c.LockThreshold < 1 {
		return fmt.Errorf("lock threshold must be at least 1")
	}
	if c.LockDuration <= 0 {
		return fmt.Errorf("lock duration must be positive")
	}
	return nil
}
