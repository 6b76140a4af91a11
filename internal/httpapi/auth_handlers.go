package httpapi

import (
	"net/http"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
)

type registerRequest struct {
	TenantID *string `json:"tenant_id"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	Tokens    auth.TokenPair  `json:"tokens"`
	Principal auth.Projection `json:"principal"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	proj, err := a.svc.Register(r.Context(), auth.RegisterParams{
		TenantID: req.TenantID,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.user.registered", map[string]any{
		"user_id": proj.ID,
		"email":   proj.Email,
	})
	writeJSON(w, http.StatusCreated, proj)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, proj, err := a.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		// The audit trail records the attempted identity even though the
		// caller only sees a generic failure.
		a.audit(r.Context(), "auth.login.failed", map[string]any{
			"email": req.Email,
		})
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id": proj.ID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Tokens: pair, Principal: proj})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, proj, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.token.rotated", map[string]any{
		"user_id": proj.ID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Tokens: pair, Principal: proj})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principal.Projection())
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Revoke(r.Context(), req.RefreshToken); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.session.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.RevokeAll(r.Context(), principal.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.Log("info", "all sessions revoked", map[string]any{"user_id": principal.UserID})
	a.audit(r.Context(), "auth.sessions.revoked_all", nil)
	w.WriteHeader(http.StatusNoContent)
}
