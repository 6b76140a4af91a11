package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/ids"
)

type tenantStore struct{ q auth.Querier }

const tenantColumns = `id, slug, name, plan, status, created_at, updated_at`

func (s *tenantStore) Create(ctx context.Context, t *auth.Tenant) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = "active"
	}
	_, err := s.q.ExecContext(ctx,
		`insert into tenants(id, slug, name, plan, status) values($1,$2,$3,$4,$5)`,
		t.ID, t.Slug, t.Name, t.Plan, t.Status,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *tenantStore) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	return scanTenant(s.q.QueryRowContext(ctx,
		`select `+tenantColumns+` from tenants where id=$1`, id))
}

func (s *tenantStore) FindBySlug(ctx context.Context, slug string) (*auth.Tenant, error) {
	return scanTenant(s.q.QueryRowContext(ctx,
		`select `+tenantColumns+` from tenants where slug=$1`, slug))
}

func (s *tenantStore) List(ctx context.Context) ([]*auth.Tenant, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+tenantColumns+` from tenants order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*auth.Tenant
	for rows.Next() {
		var t auth.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Plan, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

func scanTenant(row rowScanner) (*auth.Tenant, error) {
	var t auth.Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Plan, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
