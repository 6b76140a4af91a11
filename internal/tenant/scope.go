package tenant

import (
	"tessera.dev/internal/auth"
)

// Filter is the app-level narrowing applied to list/read queries. A nil
// TenantID means unrestricted. It is intentionally redundant with the
// store-session binding: any query path that slips past the binder still gets
// narrowed here.
type Filter struct {
	TenantID *string
}

// Unrestricted reports whether the filter applies no narrowing.
func (f Filter) Unrestricted() bool { return f.TenantID == nil }

// Allows reports whether a row owned by rowTenant passes the filter. Rows
// without a tenant (platform rows) only pass an unrestricted filter.
func (f Filter) Allows(rowTenant *string) bool {
	if f.TenantID == nil {
		return true
	}
	return rowTenant != nil && *rowTenant == *f.TenantID
}

// ListFilter converts to the store-level filter shape.
func (f Filter) ListFilter() auth.ListFilter {
	return auth.ListFilter{TenantID: f.TenantID}
}

// NarrowTo derives the filter a caller gets for a resource-action. Holding the
// "all" scope lifts the narrowing; holding only "own" pins queries to the
// caller's tenant. The two scopes are independent grants — "all" is checked
// by exact membership, never inferred.
//
// A caller with neither scope, or an "own" grant but no tenant of their own,
// is denied.
func NarrowTo(p auth.Principal, perm auth.Permission) (Filter, error) {
	if p.Set.Has(perm.WithScope(auth.ScopeAll)) {
		return Filter{}, nil
	}
	if p.Set.Has(perm.WithScope(auth.ScopeOwn)) {
		if p.TenantID == nil {
			// Platform principals have no "own" tenant to narrow to.
			return Filter{}, &auth.DeniedError{Missing: []auth.Permission{perm.WithScope(auth.ScopeAll)}}
		}
		return Filter{TenantID: p.TenantID}, nil
	}
	return Filter{}, &auth.DeniedError{Missing: []auth.Permission{
		perm.WithScope(auth.ScopeAll),
		perm.WithScope(auth.ScopeOwn),
	}}
}
