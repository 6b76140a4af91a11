package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tessera.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type storeContextKey struct{}

// withAuth validates the bearer token and threads the resolved principal
// through the request context. Routes mounted behind it never see an
// anonymous request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.svc.ValidatePrincipal(r.Context(), token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePerms gates a route on a permission requirement. The denial detail is
// logged, never returned: callers see a bare 403.
func (a *API) requirePerms(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if err := auth.Evaluate(principal.Set, req); err != nil {
				handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withTenant binds the caller's tenant onto a store connection for the
// lifetime of the request. A binding failure is fatal for the request;
// proceeding unbound would run queries outside the row policies.
func (a *API) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.binder == nil {
			next.ServeHTTP(w, r.WithContext(contextWithStore(r.Context(), a.store)))
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		conn, err := a.binder.Bind(r.Context(), principal.TenantID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		defer conn.Close()
		ctx := contextWithStore(r.Context(), a.store.Scoped(conn))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithStore(ctx context.Context, store auth.Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// requestStore returns the tenant-bound store for this request, falling back
// to the unscoped one for routes mounted outside withTenant.
func (a *API) requestStore(ctx context.Context) auth.Store {
	if s, ok := ctx.Value(storeContextKey{}).(auth.Store); ok {
		return s
	}
	return a.store
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
