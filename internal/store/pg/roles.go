package pg

import (
	"context"
	"database/sql"
	"errors"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/ids"
)

type roleStore struct{ q auth.Querier }

const roleColumns = `id, tenant_id, name, permissions, rank, is_system, is_default, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, r *auth.Role) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into roles(id, tenant_id, name, permissions, rank, is_system, is_default)
		values($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.TenantID, r.Name, overridesValue(r.Permissions), r.Rank, r.IsSystem, r.IsDefault,
	)
	return err
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return scanRole(s.q.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id))
}

func (s *roleStore) List(ctx context.Context, f auth.ListFilter) ([]*auth.Role, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	// System roles (tenant_id null) are visible to every tenant alongside its
	// own; the filter only excludes other tenants' custom roles.
	rows, err := s.q.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where ($1::text is null or tenant_id is null or tenant_id = $1)
		order by rank asc, created_at asc
		limit $2`, f.TenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		r, err := scanRoleRows(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *roleStore) FindDefault(ctx context.Context, tenantID *string) (*auth.Role, error) {
	// Tenant default first, system-wide default as fallback.
	return scanRole(s.q.QueryRowContext(ctx, `
		select `+roleColumns+` from roles
		where is_default and ($1::text is null or tenant_id is null or tenant_id = $1)
		order by tenant_id nulls last
		limit 1`, tenantID))
}

func scanRole(row rowScanner) (*auth.Role, error) {
	r, err := scanRoleRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanRoleRows(row rowScanner) (*auth.Role, error) {
	var (
		r     auth.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &perms, &r.Rank, &r.IsSystem, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Permissions = decodeStrings(perms)
	return &r, nil
}
