// Package store persists tokens and accounts in SQLite. The postgres
// subpackage provides the same contracts on PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/dukerupert/keygate/internal/entitlement"
	"github.com/dukerupert/keygate/internal/model"
)

// Tokens is everything the service needs from token persistence.
type Tokens interface {
	entitlement.TokenStore
	GetByID(ctx context.Context, id string) (*model.Token, error)
	List(ctx context.Context) ([]model.Token, error)
	Revoke(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, now time.Time) (model.TokenStats, error)
}

// Accounts stores login credentials.
type Accounts interface {
	Create(ctx context.Context, name, email, passwordHash, role string) (*model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}

var (
	_ Tokens   = (*TokenStore)(nil)
	_ Accounts = (*AccountStore)(nil)
)
