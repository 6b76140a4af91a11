package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used by service tests. Mutations hold one
// mutex, so the failure increment is linearizable the way the SQL
// implementation is.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*User
	byEmail map[string]string
	roles   map[string]*Role
	tenants map[string]*Tenant
	tokens  map[string]*RefreshToken
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		roles:   make(map[string]*Role),
		tenants: make(map[string]*Tenant),
		tokens:  make(map[string]*RefreshToken),
		now:     time.Now,
	}
}

func (m *memStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *memStore) Tenants() TenantStore             { return (*memTenants)(m) }
func (m *memStore) Roles() RoleStore                 { return (*memRoles)(m) }
func (m *memStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(m) }

func copyUser(u *User) *User {
	cp := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		cp.DeletedAt = &t
	}
	cp.Overrides = append([]string(nil), u.Overrides...)
	return &cp
}

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrAlreadyExists
	}
	now := m.now()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = copyUser(u)
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.users[id]
	if u == nil || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) List(_ context.Context, f ListFilter) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.DeletedAt != nil {
			continue
		}
		if f.TenantID != nil && (u.TenantID == nil || *u.TenantID != *f.TenantID) {
			continue
		}
		out = append(out, copyUser(u))
	}
	return out, nil
}

func (m *memUsers) SetRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RoleID = roleID
	return nil
}

func (m *memUsers) SetOverrides(_ context.Context, userID string, overrides []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Overrides = append([]string(nil), overrides...)
	return nil
}

func (m *memUsers) SoftDelete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	u.DeletedAt = &now
	// A soft-deleted row releases its email, mirroring the partial unique
	// index on live rows.
	delete(m.byEmail, u.Email)
	return nil
}

func (m *memUsers) RecordLoginFailure(_ context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.DeletedAt != nil {
		return 0, nil, ErrNotFound
	}
	u.FailedLogins++
	if u.FailedLogins >= threshold {
		until := m.now().Add(lockFor)
		u.LockedUntil = &until
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		return u.FailedLogins, &t, nil
	}
	return u.FailedLogins, nil, nil
}

func (m *memUsers) ResetLoginFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	return nil
}

type memTenants memStore

func (m *memTenants) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return nil
}

func (m *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *memTenants) FindBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memTenants) List(_ context.Context) ([]*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Tenant
	for _, t := range m.tenants {
		out = append(out, t)
	}
	return out, nil
}

type memRoles memStore

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *memRoles) List(_ context.Context, f ListFilter) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, r := range m.roles {
		if f.TenantID != nil && r.TenantID != nil && *r.TenantID != *f.TenantID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRoles) FindDefault(_ context.Context, tenantID *string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var system *Role
	for _, r := range m.roles {
		if !r.IsDefault {
			continue
		}
		if r.TenantID == nil {
			system = r
			continue
		}
		if tenantID != nil && *r.TenantID == *tenantID {
			return r, nil
		}
	}
	if system != nil {
		return system, nil
	}
	return nil, ErrNotFound
}

type memTokens memStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	if tok.RevokedAt != nil {
		t := *tok.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp, nil
}

func (m *memTokens) Revoke(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok || tok.RevokedAt != nil {
		return false, nil
	}
	now := m.now()
	tok.RevokedAt = &now
	return true, nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, tok := range m.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			t := now
			tok.RevokedAt = &t
		}
	}
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, tok := range m.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}
