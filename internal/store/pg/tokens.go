package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tessera.dev/internal/auth"
)

type tokenStore struct{ q auth.Querier }

func (s *tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, token_hash, expires_at)
		values($1,$2,$3,$4)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *tokenStore) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	row := s.q.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked_at
		from refresh_tokens where id=$1`, id)
	var (
		tok       auth.RefreshToken
		revokedAt sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		tok.RevokedAt = &t
	}
	return &tok, nil
}

// Revoke transitions the row at most once. The revoked_at guard makes
// concurrent rotations race safely: exactly one caller observes true.
func (s *tokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked_at=now() where id=$1 and revoked_at is null`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked_at=now() where user_id=$1 and revoked_at is null`, userID)
	return err
}

func (s *tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
