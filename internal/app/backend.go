// Package app assembles the storage backend selected by configuration.
package app

import (
	"context"
	"fmt"

	"github.com/dukerupert/keygate/internal/database"
	"github.com/dukerupert/keygate/internal/store"
	"github.com/dukerupert/keygate/internal/store/postgres"
)

// Backend bundles the stores of one database.
type Backend struct {
	Driver   string
	Tokens   store.Tokens
	Accounts store.Accounts
	Ping     func(context.Context) error
	close    func()
}

// Close releases the underlying database handle.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects to driver at dsn and brings its schema up to date.
func OpenBackend(ctx context.Context, driver, dsn string) (*Backend, error) {
	switch driver {
	case database.DriverSQLite, "":
		db, err := database.Open(dsn)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:   database.DriverSQLite,
			Tokens:   store.NewTokenStore(db),
			Accounts: store.NewAccountStore(db),
			Ping:     db.PingContext,
			close:    func() { db.Close() },
		}, nil

	case database.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:   database.DriverPostgres,
			Tokens:   postgres.NewTokenStore(pool),
			Accounts: postgres.NewAccountStore(pool),
			Ping:     func(ctx context.Context) error { return postgres.Ping(ctx, pool) },
			close:    pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
