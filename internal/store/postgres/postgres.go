// Package postgres implements the token and account stores on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/keygate/internal/store"
)

// queryTimeout bounds every statement.
const queryTimeout = 5 * time.Second

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// Ping checks that the pool can reach the database.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ store.Tokens   = (*TokenStore)(nil)
	_ store.Accounts = (*AccountStore)(nil)
)
