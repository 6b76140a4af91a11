package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Scope qualifies a permission. ScopeAll and ScopeOwn are the two scopes the
// data layer interprets; other values (e.g. "system") are opaque capability
// qualifiers matched verbatim. A permission may also carry no scope at all,
// which applies resource-action-wide.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeOwn  Scope = "own"
	ScopeNone Scope = ""
)

// Permission is a parsed capability. Matching is exact and case-sensitive:
// scopes are independent capability tokens, not a hierarchy. Holding
// users:read:all does not grant users:read:own.
type Permission struct {
	Resource string
	Action   string
	Scope    Scope
}

// ParsePermission parses a resource:action[:scope] key. Keys are parsed once
// at the boundary and compared structurally from then on.
func ParsePermission(key string) (Permission, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Permission{}, fmt.Errorf("%w: permission %q must be resource:action[:scope]", ErrInvalidInput, key)
	}
	for _, part := range parts {
		if part == "" {
			return Permission{}, fmt.Errorf("%w: permission %q has an empty segment", ErrInvalidInput, key)
		}
		if strings.ContainsAny(part, " \t\n") {
			return Permission{}, fmt.Errorf("%w: permission %q contains whitespace", ErrInvalidInput, key)
		}
	}
	p := Permission{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		p.Scope = Scope(parts[2])
	}
	return p, nil
}

// MustParsePermission is for compile-time-constant keys (route declarations,
// seeds). It panics on malformed input.
func MustParsePermission(key string) Permission {
	p, err := ParsePermission(key)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the wire form.
func (p Permission) String() string {
	if p.Scope == ScopeNone {
		return p.Resource + ":" + p.Action
	}
	return p.Resource + ":" + p.Action + ":" + string(p.Scope)
}

// WithScope returns the same resource-action under a different scope.
func (p Permission) WithScope(s Scope) Permission {
	p.Scope = s
	return p
}

// Set is a caller's permission set: role permissions merged with per-user
// overrides. A nil Set means permissions were never resolved and always
// evaluates as a deny.
type Set map[Permission]struct{}

// NewSet parses keys into a Set. Malformed keys are rejected, not skipped.
func NewSet(keys ...string) (Set, error) {
	set := make(Set, len(keys))
	for _, key := range keys {
		p, err := ParsePermission(key)
		if err != nil {
			return nil, err
		}
		set[p] = struct{}{}
	}
	return set, nil
}

// MergeKeys adds parsed keys to the set, skipping malformed entries. Stored
// role rows are validated on write, so a malformed key here is stale data and
// must not widen nor void the whole set.
func (s Set) MergeKeys(keys []string) Set {
	for _, key := range keys {
		p, err := ParsePermission(key)
		if err != nil {
			continue
		}
		s[p] = struct{}{}
	}
	return s
}

// Has reports exact membership.
func (s Set) Has(p Permission) bool {
	if s == nil {
		return false
	}
	_, ok := s[p]
	return ok
}

// Keys returns the sorted wire forms.
func (s Set) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
