package httpapi

import (
	"context"
	"sync"
	"time"

	"tessera.dev/internal/auth"
)

// stubStore is an in-memory ScopedStore for handler tests. Scoping is a no-op
// here; the handlers' own narrowing is what these tests exercise.
type stubStore struct {
	mu      sync.Mutex
	users   map[string]*auth.User
	byEmail map[string]string
	roles   map[string]*auth.Role
	tenants map[string]*auth.Tenant
	tokens  map[string]*auth.RefreshToken
}

func newStubStore() *stubStore {
	return &stubStore{
		users:   make(map[string]*auth.User),
		byEmail: make(map[string]string),
		roles:   make(map[string]*auth.Role),
		tenants: make(map[string]*auth.Tenant),
		tokens:  make(map[string]*auth.RefreshToken),
	}
}

func (s *stubStore) Users() auth.UserStore                 { return (*stubUsers)(s) }
func (s *stubStore) Tenants() auth.TenantStore             { return (*stubTenants)(s) }
func (s *stubStore) Roles() auth.RoleStore                 { return (*stubRoles)(s) }
func (s *stubStore) RefreshTokens() auth.RefreshTokenStore { return (*stubTokens)(s) }

func (s *stubStore) Scoped(auth.Querier) auth.Store { return s }

type stubUsers stubStore

func (s *stubUsers) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return auth.ErrAlreadyExists
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *stubUsers) Find(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := s.users[id]
	if u == nil || u.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) List(_ context.Context, f auth.ListFilter) ([]*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.User
	for _, u := range s.users {
		if u.DeletedAt != nil {
			continue
		}
		if f.TenantID != nil && (u.TenantID == nil || *u.TenantID != *f.TenantID) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubUsers) SetRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.RoleID = roleID
	return nil
}

func (s *stubUsers) SetOverrides(_ context.Context, userID string, overrides []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Overrides = append([]string(nil), overrides...)
	return nil
}

func (s *stubUsers) SoftDelete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	delete(s.byEmail, u.Email)
	return nil
}

func (s *stubUsers) RecordLoginFailure(_ context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLogins++
	if u.FailedLogins >= threshold {
		until := time.Now().Add(lockFor)
		u.LockedUntil = &until
	}
	return u.FailedLogins, u.LockedUntil, nil
}

func (s *stubUsers) ResetLoginFailures(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	return nil
}

type stubTenants stubStore

func (s *stubTenants) Create(_ context.Context, t *auth.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tenants {
		if existing.Slug == t.Slug {
			return auth.ErrAlreadyExists
		}
	}
	s.tenants[t.ID] = t
	return nil
}

func (s *stubTenants) Find(_ context.Context, id string) (*auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return t, nil
}

func (s *stubTenants) FindBySlug(_ context.Context, slug string) (*auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *stubTenants) List(_ context.Context) ([]*auth.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.Tenant
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out, nil
}

type stubRoles stubStore

func (s *stubRoles) Create(_ context.Context, r *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
	return nil
}

func (s *stubRoles) Find(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r, nil
}

func (s *stubRoles) List(_ context.Context, f auth.ListFilter) ([]*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.Role
	for _, r := range s.roles {
		if f.TenantID != nil && r.TenantID != nil && *r.TenantID != *f.TenantID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *stubRoles) FindDefault(_ context.Context, tenantID *string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var system *auth.Role
	for _, r := range s.roles {
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
	return nil, auth.ErrNotFound
}

type stubTokens stubStore

func (s *stubTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *stubTokens) Find(_ context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *stubTokens) Revoke(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	tok.RevokedAt = &now
	return true, nil
}

func (s *stubTokens) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			t := now
			tok.RevokedAt = &t
		}
	}
	return nil
}

func (s *stubTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}
