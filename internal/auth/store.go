package auth

import (
	"context"
	"database/sql"
	"time"
)

// Querier is the minimal query surface a store needs. *sql.DB, *sql.Conn,
// *sql.Tx and tenant-scoped connections all satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Tenants() TenantStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
}

// ListFilter narrows list queries. A nil TenantID means unrestricted; this is
// the app-level narrowing applied on top of the store-session filter.
type ListFilter struct {
	TenantID *string
	Limit    int
}

// UserStore manages principal records. Reads exclude soft-deleted rows unless
// noted.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail resolves a login identifier. It includes disabled and locked
	// rows so the guard can classify them, but never soft-deleted ones.
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f ListFilter) ([]*User, error)
	SetRole(ctx context.Context, userID, roleID string) error
	SetOverrides(ctx context.Context, userID string, overrides []string) error
	SoftDelete(ctx context.Context, userID string) error

	// RecordLoginFailure atomically increments the failure counter and, when
	// the new counter reaches threshold, stamps the lock expiry in the same
	// statement. Returns the post-increment counter and the lock expiry if
	// one is in effect. Never implemented as read-then-write.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error)
	// ResetLoginFailures clears the counter and lock on successful login.
	ResetLoginFailures(ctx context.Context, userID string) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
}

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context, f ListFilter) ([]*Role, error)
	// FindDefault returns the default role for new registrations in the given
	// tenant, falling back to the system-wide default.
	FindDefault(ctx context.Context, tenantID *string) (*Role, error)
}

// RefreshTokenStore manages the revocable refresh-token ledger.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Revoke marks the token revoked. The bool reports whether this call
	// transitioned it (false when already revoked or unknown), which makes
	// rotation a single atomic winner-takes-all step.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
