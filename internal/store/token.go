package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

// TokenStore persists activation tokens in SQLite.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	var valid int
	var ownerID sql.NullInt64
	var activatedAt sql.NullTime
	var expiresAt sql.NullTime
	err := scanner.Scan(
		&t.ID, &t.Token, &t.Plan, &t.Email, &valid,
		&ownerID, &activatedAt, &expiresAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Valid = valid != 0
	if ownerID.Valid {
		t.OwnerID = &ownerID.Int64
	}
	if activatedAt.Valid {
		at := activatedAt.Time.UTC()
		t.ActivatedAt = &at
	}
	if expiresAt.Valid {
		exp := expiresAt.Time.UTC()
		t.ExpiresAt = &exp
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

const tokenCols = `id, token, plan, email, valid, owner_id, activated_at, expires_at, created_at`

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *TokenStore) Insert(ctx context.Context, t *model.Token) error {
	valid := 0
	if t.Valid {
		valid = 1
	}
	var ownerID sql.NullInt64
	if t.OwnerID != nil {
		ownerID = sql.NullInt64{Int64: *t.OwnerID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Token, string(t.Plan), t.Email, valid,
		ownerID, nullTime(t.ActivatedAt), nullTime(t.ExpiresAt), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *TokenStore) GetByID(ctx context.Context, id string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (s *TokenStore) FindClaimable(ctx context.Context, token string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenCols+` FROM tokens WHERE token = ? AND valid = 1 AND owner_id IS NULL`,
		token,
	)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find claimable token: %w", err)
	}
	return t, nil
}

// Claim sets the owner only while the row is still valid and unowned, so two
// concurrent claims of the same row cannot both affect it.
func (s *TokenStore) Claim(ctx context.Context, id string, ownerID int64, email string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tokens
		    SET owner_id = ?, activated_at = ?, email = CASE WHEN email = '' THEN ? ELSE email END
		  WHERE id = ? AND valid = 1 AND owner_id IS NULL`,
		ownerID, at.UTC(), email, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *TokenStore) LatestOwned(ctx context.Context, ownerID int64) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenCols+` FROM tokens
		  WHERE owner_id = ? AND valid = 1
		  ORDER BY created_at DESC, activated_at DESC, id DESC
		  LIMIT 1`,
		ownerID,
	)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest owned token: %w", err)
	}
	return t, nil
}

// List returns every token, newest first.
func (s *TokenStore) List(ctx context.Context) ([]model.Token, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tokenCols+` FROM tokens ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// Revoke marks a token invalid. Ownership is left untouched.
func (s *TokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE tokens SET valid = 0 WHERE id = ? AND valid = 1`, id)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Stats counts tokens by lifecycle state as of now.
func (s *TokenStore) Stats(ctx context.Context, now time.Time) (model.TokenStats, error) {
	var st model.TokenStats
	now = now.UTC()
	err := s.db.QueryRowContext(ctx,
		`SELECT
		    COALESCE(SUM(CASE WHEN valid = 1 AND owner_id IS NULL THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN valid = 1 AND owner_id IS NOT NULL
		                       AND (expires_at IS NULL OR julianday(expires_at) > julianday(?)) THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN valid = 1 AND owner_id IS NOT NULL
		                       AND julianday(expires_at) <= julianday(?) THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN valid = 0 THEN 1 ELSE 0 END), 0)
		  FROM tokens`,
		now, now,
	).Scan(&st.Unclaimed, &st.Active, &st.Expired, &st.Revoked)
	if err != nil {
		return model.TokenStats{}, fmt.Errorf("token stats: %w", err)
	}
	return st, nil
}
