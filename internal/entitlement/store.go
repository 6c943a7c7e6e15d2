package entitlement

import (
	"context"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

// TokenStore is the persistence contract the token lifecycle depends on.
// Lookups return nil, nil when nothing matches; any non-nil error means the
// store itself failed.
type TokenStore interface {
	Insert(ctx context.Context, t *model.Token) error

	// FindClaimable returns the valid, unowned token with the given code.
	FindClaimable(ctx context.Context, token string) (*model.Token, error)

	// Claim sets the owner of token id if and only if it is still valid and
	// unowned. It reports whether this call performed the claim. The email
	// is stored only when the record has none.
	Claim(ctx context.Context, id string, ownerID int64, email string, at time.Time) (bool, error)

	// LatestOwned returns the most recently created valid token owned by
	// ownerID.
	LatestOwned(ctx context.Context, ownerID int64) (*model.Token, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
