package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.dev/internal/auth"
)

// Store implements auth.Store using PostgreSQL. Row-level security policies
// keyed on the app.tenant_id session variable do the primary tenant filtering;
// the queries here additionally honor the app-level list filter.
type Store struct {
	db *sql.DB
	q  auth.Querier
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Scoped returns a store view that runs every query over q — typically a
// tenant-scoped connection checked out for one request.
func (s *Store) Scoped(q auth.Querier) auth.Store {
	return &Store{db: s.db, q: q}
}

// DB exposes the pool for health checks and the tenant binder.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Users() auth.UserStore                 { return &userStore{q: s.q} }
func (s *Store) Tenants() auth.TenantStore             { return &tenantStore{q: s.q} }
func (s *Store) Roles() auth.RoleStore                 { return &roleStore{q: s.q} }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return &tokenStore{q: s.q} }
