package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tessera.dev/internal/audit"
	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
	"tessera.dev/internal/tenant"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps domain errors onto transport responses. Two redactions
// happen here: permission denials never name the missing permissions, and a
// lockout never discloses when it lifts.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *auth.DeniedError
	var tenantErr *tenant.ContextError
	switch {
	case errors.As(err, &denied):
		obs.Log("info", "permission denied", map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"detail":     denied.Error(),
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.As(err, &tenantErr):
		obs.Log("error", "tenant context failure", map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"detail":     tenantErr.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "tenant context unavailable")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusLocked, "account temporarily locked, retry later")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAccountNotActive), errors.Is(err, auth.ErrAccountDeleted):
		writeError(w, r, http.StatusForbidden, "account is not active")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		obs.Log("error", "request failed", map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"detail":     err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
