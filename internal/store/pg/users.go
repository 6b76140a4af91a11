package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/ids"
)

type userStore struct{ q auth.Querier }

const userColumns = `id, tenant_id, email, password_hash, role_id, status,
	overrides, failed_logins, locked_until, created_by, created_at, updated_at, deleted_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = auth.UserStatusActive
	}
	_, err := s.q.ExecContext(ctx, `
		insert into users(id, tenant_id, email, password_hash, role_id, status, overrides, created_by)
		values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.TenantID, u.Email, u.PasswordHash, u.RoleID, u.Status, overridesValue(u.Overrides), u.CreatedBy,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and deleted_at is null`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and deleted_at is null`, email)
	return scanUser(row)
}

func (s *userStore) List(ctx context.Context, f auth.ListFilter) ([]*auth.User, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		select `+userColumns+` from users
		where deleted_at is null
		  and ($1::text is null or tenant_id = $1)
		order by created_at asc
		limit $2`, f.TenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) SetRole(ctx context.Context, userID, roleID string) error {
	return s.exec(ctx, `update users set role_id=$2, updated_at=now() where id=$1 and deleted_at is null`, userID, roleID)
}

func (s *userStore) SetOverrides(ctx context.Context, userID string, overrides []string) error {
	return s.exec(ctx, `update users set overrides=$2, updated_at=now() where id=$1 and deleted_at is null`, userID, overridesValue(overrides))
}

func (s *userStore) SoftDelete(ctx context.Context, userID string) error {
	return s.exec(ctx, `update users set deleted_at=now(), updated_at=now() where id=$1 and deleted_at is null`, userID)
}

// RecordLoginFailure is a single compare-and-increment statement. The counter
// bump and the conditional lock stamp commit together, so N concurrent
// failures always land as a counter of exactly N.
func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	row := s.q.QueryRowContext(ctx, `
		update users
		set failed_logins = failed_logins + 1,
		    locked_until = case
		        when failed_logins + 1 >= $2 then now() + $3::interval
		        else locked_until
		    end,
		    updated_at = now()
		where id = $1 and deleted_at is null
		returning failed_logins, locked_until`,
		userID, threshold, lockFor.String(),
	)
	var (
		attempts    int
		lockedUntil sql.NullTime
	)
	if err := row.Scan(&attempts, &lockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, auth.ErrNotFound
		}
		return 0, nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		return attempts, &t, nil
	}
	return attempts, nil, nil
}

func (s *userStore) ResetLoginFailures(ctx context.Context, userID string) error {
	return s.exec(ctx, `update users set failed_logins=0, locked_until=null, updated_at=now() where id=$1 and deleted_at is null`, userID)
}

func (s *userStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	u, err := scanUserRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func scanUserRows(row rowScanner) (*auth.User, error) {
	var (
		u           auth.User
		overrides   []byte
		lockedUntil sql.NullTime
		deletedAt   sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.RoleID, &u.Status,
		&overrides, &u.FailedLogins, &lockedUntil, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	u.Overrides = decodeStrings(overrides)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}
