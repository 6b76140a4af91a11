package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tessera.dev/internal/auth"
)

const (
	adminEmail   = "admin@example.com"
	memberEmail  = "member@example.com"
	testPassword = "test-password-1"
	tenantOneID  = "tenant-1"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *stubStore
}

func newTestAPI(t *testing.T, opts ...auth.ServiceOption) *apiClient {
	t.Helper()

	store := newStubStore()
	seed(t, store)

	svc, err := auth.NewService(store, "test-signing-secret", opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(Config{
		Service:            svc,
		Store:              store,
		Version:            "test",
		LoginRatePerSecond: 100,
		LoginRateBurst:     100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func seed(t *testing.T, store *stubStore) {
	t.Helper()
	ctx := context.Background()

	if err := store.Tenants().Create(ctx, &auth.Tenant{
		ID: tenantOneID, Slug: "one", Name: "Tenant One", Status: "active",
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	roles := []*auth.Role{
		{
			ID:          "role-member",
			Name:        "member",
			Permissions: []string{"users:read:own"},
			IsDefault:   true,
			IsSystem:    true,
		},
		{
			ID:   "role-admin",
			Name: "admin",
			Permissions: []string{
				"tenants:read:all", "tenants:create:all",
				"users:read:all", "users:create:all", "users:update:all", "users:delete:all",
				"roles:read:all", "roles:create:all", "roles:update:all",
			},
			IsSystem: true,
			Rank:     100,
		},
	}
	for _, r := range roles {
		if err := store.Roles().Create(ctx, r); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	tid := tenantOneID
	users := []*auth.User{
		{ID: "user-admin", Email: adminEmail, PasswordHash: hash, RoleID: "role-admin", Status: auth.UserStatusActive},
		{ID: "user-member", TenantID: &tid, Email: memberEmail, PasswordHash: hash, RoleID: "role-member", Status: auth.UserStatusActive},
	}
	for _, u := range users {
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email, password string) sessionResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		c.t.Fatalf("decode session: %v", err)
	}
	return session
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return payload
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/info", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterLoginMe(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"tenant_id": tenantOneID,
		"email":     "newcomer@example.com",
		"password":  "a-long-password",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"tenant_id": tenantOneID,
		"email":     "newcomer@example.com",
		"password":  "a-long-password",
	}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: %d", resp.StatusCode)
	}
	resp.Body.Close()

	session := c.login("newcomer@example.com", "a-long-password")
	if session.Tokens.AccessToken == "" || session.Tokens.RefreshToken == "" {
		t.Fatal("login returned incomplete pair")
	}

	resp = c.do(http.MethodGet, "/v1/auth/me", nil, session.Tokens.AccessToken)
	payload := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || payload["email"] != "newcomer@example.com" {
		t.Fatalf("me: %d %v", resp.StatusCode, payload)
	}

	// The login principal and /me render the same projection: no field may
	// appear in one and come back empty or missing in the other.
	raw, err := json.Marshal(session.Principal)
	if err != nil {
		t.Fatalf("marshal principal: %v", err)
	}
	var loginView map[string]any
	if err := json.Unmarshal(raw, &loginView); err != nil {
		t.Fatalf("unmarshal principal: %v", err)
	}
	for key := range loginView {
		if _, ok := payload[key]; !ok {
			t.Fatalf("login projection field %q missing from /me response", key)
		}
	}
	for key := range payload {
		if _, ok := loginView[key]; !ok {
			t.Fatalf("/me field %q missing from login projection", key)
		}
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	c := newTestAPI(t)

	for _, email := range []string{memberEmail, "ghost@example.com"} {
		resp := c.do(http.MethodPost, "/v1/auth/login", map[string]string{
			"email": email, "password": "wrong-password!",
		}, "")
		payload := decodeBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", email, resp.StatusCode)
		}
		if payload["error"] != "invalid credentials" {
			t.Fatalf("%s: leaked detail %v", email, payload["error"])
		}
	}
}

func TestLockoutResponseOmitsUnlockTime(t *testing.T) {
	c := newTestAPI(t, auth.WithLockPolicy(auth.LockPolicy{Threshold: 3, Duration: 15 * time.Minute}))

	var last *http.Response
	for i := 0; i < 3; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = c.do(http.MethodPost, "/v1/auth/login", map[string]string{
			"email": memberEmail, "password": "wrong-password!",
		}, "")
	}
	payload := decodeBody(t, last)
	if last.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423, got %d", last.StatusCode)
	}
	msg, _ := payload["error"].(string)
	if strings.Contains(msg, ":") || strings.ContainsAny(msg, "0123456789") {
		t.Fatalf("lockout response must not disclose the unlock time: %q", msg)
	}

	// Correct credentials inside the window get the same answer.
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"email": memberEmail, "password": testPassword,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("correct password inside the window: %d", resp.StatusCode)
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	c := newTestAPI(t)
	session := c.login(memberEmail, testPassword)

	resp := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": session.Tokens.RefreshToken,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d", resp.StatusCode)
	}
	var rotated sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if rotated.Tokens.RefreshToken == session.Tokens.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	resp = c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": session.Tokens.RefreshToken,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed token: %d", resp.StatusCode)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	c := newTestAPI(t)
	session := c.login(memberEmail, testPassword)

	resp := c.do(http.MethodPost, "/v1/auth/logout", map[string]string{
		"refresh_token": session.Tokens.RefreshToken,
	}, session.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": session.Tokens.RefreshToken,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/users", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing bearer: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/users", nil, "not-a-jwt")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage bearer: %d", resp.StatusCode)
	}
}

func TestPermissionDenialIsRedacted(t *testing.T) {
	c := newTestAPI(t)
	session := c.login(memberEmail, testPassword)

	resp := c.do(http.MethodGet, "/v1/tenants", nil, session.Tokens.AccessToken)
	payload := decodeBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	msg, _ := payload["error"].(string)
	if msg != "forbidden" {
		t.Fatalf("denial must not name the missing permissions: %q", msg)
	}
}

func TestListUsersNarrowsToCallerScope(t *testing.T) {
	c := newTestAPI(t)

	admin := c.login(adminEmail, testPassword)
	resp := c.do(http.MethodGet, "/v1/users", nil, admin.Tokens.AccessToken)
	payload := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list: %d", resp.StatusCode)
	}
	if users, _ := payload["users"].([]any); len(users) != 2 {
		t.Fatalf("admin must see every tenant: %v", payload["users"])
	}

	member := c.login(memberEmail, testPassword)
	resp = c.do(http.MethodGet, "/v1/users", nil, member.Tokens.AccessToken)
	payload = decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member list: %d", resp.StatusCode)
	}
	users, _ := payload["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("member must only see their tenant: %v", payload["users"])
	}
	row, _ := users[0].(map[string]any)
	if row["tenant_id"] != tenantOneID {
		t.Fatalf("foreign row leaked: %v", row)
	}
}

func TestCreateTenantRequiresPlatformPermission(t *testing.T) {
	c := newTestAPI(t)

	admin := c.login(adminEmail, testPassword)
	resp := c.do(http.MethodPost, "/v1/tenants", map[string]string{
		"slug": "two", "name": "Tenant Two",
	}, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create tenant: %d", resp.StatusCode)
	}

	member := c.login(memberEmail, testPassword)
	resp = c.do(http.MethodPost, "/v1/tenants", map[string]string{
		"slug": "three", "name": "Tenant Three",
	}, member.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member create tenant: %d", resp.StatusCode)
	}
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, testPassword)
	member := c.login(memberEmail, testPassword)

	resp := c.do(http.MethodDelete, "/v1/users/user-member", nil, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": member.Tokens.RefreshToken,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted user's session must be dead: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/auth/me", nil, member.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("deleted user's access token must stop validating")
	}
}

func TestAssignRoleChecksTenantOwnership(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, testPassword)

	tid := tenantOneID
	other := "tenant-other"
	if err := c.store.Roles().Create(context.Background(), &auth.Role{
		ID: "role-foreign", TenantID: &other, Name: "foreign",
	}); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	if err := c.store.Roles().Create(context.Background(), &auth.Role{
		ID: "role-local", TenantID: &tid, Name: "local",
	}); err != nil {
		t.Fatalf("seed role: %v", err)
	}

	resp := c.do(http.MethodPut, "/v1/users/user-member/role", map[string]string{
		"role_id": "role-foreign",
	}, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("cross-tenant role assignment: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPut, "/v1/users/user-member/role", map[string]string{
		"role_id": "role-local",
	}, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("same-tenant role assignment: %d", resp.StatusCode)
	}
}

func TestSetOverridesValidatesKeys(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, testPassword)

	resp := c.do(http.MethodPut, "/v1/users/user-member/overrides", map[string]any{
		"overrides": []string{"reports:export:all", "bad key"},
	}, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed override key: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPut, "/v1/users/user-member/overrides", map[string]any{
		"overrides": []string{"reports:export:all"},
	}, admin.Tokens.AccessToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("valid overrides: %d", resp.StatusCode)
	}
}
