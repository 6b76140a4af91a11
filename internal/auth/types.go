package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Tenant is an isolation boundary. Every tenant-scoped row carries its id.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a principal record. A nil TenantID marks a platform-level principal
// that is not confined to any tenant. CreatedBy is an owned identifier, looked
// up on demand, never an embedded object.
type User struct {
	ID           string     `json:"id"`
	TenantID     *string    `json:"tenant_id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	RoleID       string     `json:"role_id"`
	Status       string     `json:"status"`
	Overrides    []string   `json:"overrides,omitempty"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	CreatedBy    *string    `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Role groups an ordered permission list. A nil TenantID marks a system role
// shared across tenants. Rank orders roles for display and escalation checks.
type Role struct {
	ID          string    `json:"id"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	Rank        int       `json:"rank"`
	IsSystem    bool      `json:"is_system"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RefreshToken is the server-tracked half of a credential pair. Only a hash of
// the secret is persisted; a revoked row is never reissued.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Projection is the caller-visible snapshot of a principal returned alongside
// credentials.
type Projection struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	TenantID    *string  `json:"tenant_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// Principal is the resolved caller identity threaded through request handling.
// Set is nil when permissions were never resolved, which evaluates as a hard
// deny; an empty Set means the caller verifiably holds nothing.
type Principal struct {
	UserID   string
	TenantID *string
	Email    string
	Set      Set
}

// Projection renders the principal into its wire shape.
func (p Principal) Projection() Projection {
	return Projection{
		ID:          p.UserID,
		Email:       p.Email,
		TenantID:    p.TenantID,
		Permissions: p.Set.Keys(),
	}
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
