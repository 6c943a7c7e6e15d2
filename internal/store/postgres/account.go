package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/keygate/internal/model"
)

type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountCols = `id, name, email, password_hash, role, created_at, updated_at`

func (s *AccountStore) Create(ctx context.Context, name, email, passwordHash, role string) (*model.Account, error) {
	if role == "" {
		role = model.RoleMember
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var a model.Account
	err := pgxscan.Get(ctx, s.pool, &a,
		`INSERT INTO accounts (name, email, password_hash, role) VALUES ($1, $2, $3, $4)
		 RETURNING `+accountCols,
		name, email, passwordHash, role,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &a, nil
}

func (s *AccountStore) getOne(ctx context.Context, op, query string, args ...any) (*model.Account, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var a model.Account
	if err := pgxscan.Get(ctx, s.pool, &a, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.getOne(ctx, "get account", `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getOne(ctx, "get account by email", `SELECT `+accountCols+` FROM accounts WHERE email = $1`, email)
}
