package auth

import (
	"fmt"
	"strings"
)

// Mode selects how a requirement combines its permissions.
type Mode int

const (
	// ModeAny allows when the caller holds at least one required permission.
	ModeAny Mode = iota
	// ModeAll requires every listed permission.
	ModeAll
)

// Requirement is a route's declared permission requirement. An empty Perms
// list allows unconditionally: authentication alone suffices.
type Requirement struct {
	Perms []Permission
	Mode  Mode
}

// RequireAny builds an OR requirement from constant keys.
func RequireAny(keys ...string) Requirement {
	return Requirement{Perms: mustParseAll(keys)}
}

// RequireAll builds an AND requirement from constant keys.
func RequireAll(keys ...string) Requirement {
	return Requirement{Perms: mustParseAll(keys), Mode: ModeAll}
}

func mustParseAll(keys []string) []Permission {
	perms := make([]Permission, 0, len(keys))
	for _, key := range keys {
		perms = append(perms, MustParsePermission(key))
	}
	return perms
}

// DeniedError reports an unmet requirement. The message names the missing
// permissions for logs; transport layers must redact it for end users.
type DeniedError struct {
	Missing []Permission
}

func (e *DeniedError) Error() string {
	if len(e.Missing) == 0 {
		return "auth: permission denied"
	}
	keys := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		keys = append(keys, p.String())
	}
	return fmt.Sprintf("auth: permission denied, missing %s", strings.Join(keys, ", "))
}

// Evaluate decides whether the caller's set satisfies the requirement.
// A nil set fails closed even against an empty requirement: an unresolved
// permission set is indistinguishable from a bug, not an empty grant.
func Evaluate(set Set, req Requirement) error {
	if set == nil {
		return &DeniedError{Missing: req.Perms}
	}
	if len(req.Perms) == 0 {
		return nil
	}
	var missing []Permission
	for _, p := range req.Perms {
		if set.Has(p) {
			if req.Mode == ModeAny {
				return nil
			}
			continue
		}
		missing = append(missing, p)
	}
	if req.Mode == ModeAll && len(missing) == 0 {
		return nil
	}
	if req.Mode == ModeAny {
		// Nothing matched; report the full requirement.
		missing = req.Perms
	}
	return &DeniedError{Missing: missing}
}
