package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/keygate/internal/database"
	"github.com/dukerupert/keygate/internal/entitlement"
	"github.com/dukerupert/keygate/internal/model"
)

// setupPostgres connects to KEYGATE_TEST_POSTGRES_DSN and empties the tables.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("KEYGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KEYGATE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `TRUNCATE tokens, accounts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestPostgresTokenLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	ts, as := NewTokenStore(pool), NewAccountStore(pool)

	x, err := as.Create(ctx, "X", "x@example.com", "hash", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	z, err := as.Create(ctx, "Z", "z@example.com", "hash", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	issued, err := entitlement.NewIssuer(ts, clock).Issue(ctx, model.PlanShort, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	act := entitlement.NewActivator(ts, clock)
	if _, err := act.Activate(ctx, issued.Token, x.ID, x.Email); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := act.Activate(ctx, issued.Token, z.ID, z.Email); !errors.Is(err, entitlement.ErrTokenNotFound) {
		t.Fatalf("second activate: err = %v, want ErrTokenNotFound", err)
	}

	ent, err := entitlement.NewResolver(ts, clock).Resolve(ctx, x.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ent.HasEntitlement || ent.Plan != model.PlanShort {
		t.Errorf("entitlement = %+v, want active short", ent)
	}

	st, err := ts.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Active != 1 {
		t.Errorf("active = %d, want 1", st.Active)
	}

	tokens, err := ts.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 1 || tokens[0].OwnerID == nil || *tokens[0].OwnerID != x.ID {
		t.Errorf("tokens = %+v, want one owned by %d", tokens, x.ID)
	}

	ok, err := ts.Revoke(ctx, tokens[0].ID)
	if err != nil || !ok {
		t.Fatalf("revoke = %v, %v", ok, err)
	}
	if got, _ := ts.LatestOwned(ctx, x.ID); got != nil {
		t.Error("revoked token should not be returned as owned")
	}
}

func TestPostgresConcurrentActivation(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	ts, as := NewTokenStore(pool), NewAccountStore(pool)

	issued, err := entitlement.NewIssuer(ts, nil).Issue(ctx, model.PlanUnlimited, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	act := entitlement.NewActivator(ts, nil)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		a, err := as.Create(ctx, "U", fmt.Sprintf("u%d@example.com", i), "hash", "")
		if err != nil {
			t.Fatalf("create account: %v", err)
		}
		wg.Add(1)
		go func(a *model.Account) {
			defer wg.Done()
			if _, err := act.Activate(ctx, issued.Token, a.ID, a.Email); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}
