package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/keygate/internal/model"
)

type TokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

const tokenCols = `id::text AS id, token, plan, email, valid, owner_id, activated_at, expires_at, created_at`

func (s *TokenStore) Insert(ctx context.Context, t *model.Token) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, token, plan, email, valid, owner_id, activated_at, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Token, string(t.Plan), t.Email, t.Valid, t.OwnerID, t.ActivatedAt, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// getOne runs a single-row token query, mapping no rows to nil, nil.
func (s *TokenStore) getOne(ctx context.Context, op, query string, args ...any) (*model.Token, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var t model.Token
	if err := pgxscan.Get(ctx, s.pool, &t, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

func (s *TokenStore) GetByID(ctx context.Context, id string) (*model.Token, error) {
	return s.getOne(ctx, "get token", `SELECT `+tokenCols+` FROM tokens WHERE id = $1`, id)
}

func (s *TokenStore) FindClaimable(ctx context.Context, token string) (*model.Token, error) {
	return s.getOne(ctx, "find claimable token",
		`SELECT `+tokenCols+` FROM tokens WHERE token = $1 AND valid AND owner_id IS NULL`,
		token,
	)
}

// Claim sets the owner only while the row is still valid and unowned.
func (s *TokenStore) Claim(ctx context.Context, id string, ownerID int64, email string, at time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens
		    SET owner_id = $1, activated_at = $2, email = CASE WHEN email = '' THEN $3 ELSE email END
		  WHERE id = $4 AND valid AND owner_id IS NULL`,
		ownerID, at, email, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *TokenStore) LatestOwned(ctx context.Context, ownerID int64) (*model.Token, error) {
	return s.getOne(ctx, "get latest owned token",
		`SELECT `+tokenCols+` FROM tokens
		  WHERE owner_id = $1 AND valid
		  ORDER BY created_at DESC, activated_at DESC, id DESC
		  LIMIT 1`,
		ownerID,
	)
}

func (s *TokenStore) List(ctx context.Context) ([]model.Token, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var tokens []model.Token
	if err := pgxscan.Select(ctx, s.pool, &tokens,
		`SELECT `+tokenCols+` FROM tokens ORDER BY created_at DESC, id DESC`,
	); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (s *TokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE tokens SET valid = FALSE WHERE id = $1 AND valid`, id)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *TokenStore) Stats(ctx context.Context, now time.Time) (model.TokenStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var st model.TokenStats
	err := pgxscan.Get(ctx, s.pool, &st,
		`SELECT
		    COUNT(*) FILTER (WHERE valid AND owner_id IS NULL) AS unclaimed,
		    COUNT(*) FILTER (WHERE valid AND owner_id IS NOT NULL AND (expires_at IS NULL OR expires_at > $1)) AS active,
		    COUNT(*) FILTER (WHERE valid AND owner_id IS NOT NULL AND expires_at <= $1) AS expired,
		    COUNT(*) FILTER (WHERE NOT valid) AS revoked
		  FROM tokens`,
		now,
	)
	if err != nil {
		return model.TokenStats{}, fmt.Errorf("token stats: %w", err)
	}
	return st, nil
}
