package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/ids"
	"tessera.dev/internal/tenant"
)

type createTenantRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Plan string `json:"plan"`
}

type createUserRequest struct {
	TenantID *string `json:"tenant_id"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type setOverridesRequest struct {
	Overrides []string `json:"overrides"`
}

type createRoleRequest struct {
	TenantID    *string  `json:"tenant_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Rank        int      `json:"rank"`
	IsDefault   bool     `json:"is_default"`
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.requestStore(r.Context()).Tenants().List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "slug and name are required")
		return
	}
	t := &auth.Tenant{
		ID:     ids.New(),
		Slug:   req.Slug,
		Name:   req.Name,
		Plan:   strings.TrimSpace(req.Plan),
		Status: "active",
	}
	if err := a.requestStore(r.Context()).Tenants().Create(r.Context(), t); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "tenant.created", map[string]any{
		"tenant_id": t.ID,
		"slug":      t.Slug,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.requestStore(r.Context()).Tenants().Find(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	target, _, err := a.narrowToUser(r, chi.URLParam(r, "userID"), "users:read")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	filter, err := tenant.NarrowTo(principal, auth.MustParsePermission("users:read"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	listFilter := filter.ListFilter()
	listFilter.Limit = parseLimit(r, 100)
	users, err := a.requestStore(r.Context()).Users().List(r.Context(), listFilter)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := tenant.NarrowTo(principal, auth.MustParsePermission("users:create"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	tenantID := req.TenantID
	if !filter.Unrestricted() {
		// An "own"-scoped creator can only populate their own tenant.
		if tenantID == nil {
			tenantID = filter.TenantID
		} else if !filter.Allows(tenantID) {
			handleAuthError(w, r, &auth.DeniedError{Missing: []auth.Permission{
				auth.MustParsePermission("users:create:all"),
			}})
			return
		}
	}
	actorID := principal.UserID
	proj, err := a.svc.Register(r.Context(), auth.RegisterParams{
		TenantID:  tenantID,
		Email:     req.Email,
		Password:  req.Password,
		CreatedBy: &actorID,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.created", map[string]any{
		"user_id": proj.ID,
		"email":   proj.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", proj.ID))
	writeJSON(w, http.StatusCreated, proj)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	target, _, err := a.narrowToUser(r, userID, "users:delete")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.requestStore(r.Context()).Users().SoftDelete(r.Context(), target.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// A deleted principal keeps no live sessions.
	if err := a.svc.RevokeAll(r.Context(), target.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.deleted", map[string]any{"user_id": target.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	target, _, err := a.narrowToUser(r, userID, "users:update")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	role, err := a.requestStore(r.Context()).Roles().Find(r.Context(), req.RoleID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	// A tenant role can only be worn inside its tenant; system roles are
	// shared.
	if role.TenantID != nil && (target.TenantID == nil || *role.TenantID != *target.TenantID) {
		writeError(w, r, http.StatusBadRequest, "role does not belong to the user's tenant")
		return
	}
	if err := a.requestStore(r.Context()).Users().SetRole(r.Context(), target.ID, role.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.role_assigned", map[string]any{
		"user_id": target.ID,
		"role_id": role.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetOverrides(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req setOverridesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	for _, key := range req.Overrides {
		if _, err := auth.ParsePermission(key); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	target, _, err := a.narrowToUser(r, userID, "users:update")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.requestStore(r.Context()).Users().SetOverrides(r.Context(), target.ID, req.Overrides); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.overrides_set", map[string]any{
		"user_id": target.ID,
		"count":   len(req.Overrides),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminRevokeTokens(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	target, _, err := a.narrowToUser(r, userID, "users:update")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.svc.RevokeAll(r.Context(), target.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.tokens_revoked", map[string]any{"user_id": target.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	filter, err := tenant.NarrowTo(principal, auth.MustParsePermission("roles:read"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	roles, err := a.requestStore(r.Context()).Roles().List(r.Context(), filter.ListFilter())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	for _, key := range req.Permissions {
		if _, err := auth.ParsePermission(key); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	filter, err := tenant.NarrowTo(principal, auth.MustParsePermission("roles:create"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	tenantID := req.TenantID
	if !filter.Unrestricted() {
		if tenantID == nil {
			tenantID = filter.TenantID
		} else if !filter.Allows(tenantID) {
			handleAuthError(w, r, &auth.DeniedError{Missing: []auth.Permission{
				auth.MustParsePermission("roles:create:all"),
			}})
			return
		}
	}
	role := &auth.Role{
		ID:          ids.New(),
		TenantID:    tenantID,
		Name:        req.Name,
		Permissions: req.Permissions,
		Rank:        req.Rank,
		IsDefault:   req.IsDefault,
	}
	if err := a.requestStore(r.Context()).Roles().Create(r.Context(), role); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.created", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

// narrowToUser loads the target user and checks the caller's data scope for
// the given resource-action against the row's tenant.
func (a *API) narrowToUser(r *http.Request, userID, permKey string) (*auth.User, tenant.Filter, error) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	filter, err := tenant.NarrowTo(principal, auth.MustParsePermission(permKey))
	if err != nil {
		return nil, tenant.Filter{}, err
	}
	target, err := a.requestStore(r.Context()).Users().Find(r.Context(), userID)
	if err != nil {
		return nil, tenant.Filter{}, err
	}
	if !filter.Allows(target.TenantID) {
		// Out-of-scope rows are indistinguishable from absent ones.
		return nil, tenant.Filter{}, auth.ErrNotFound
	}
	return target, filter, nil
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return fallback
	}
	return n
}
