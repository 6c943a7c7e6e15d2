package entitlement

import (
	"context"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

// maxClaimAttempts bounds the optimistic claim loop.
const maxClaimAttempts = 3

// Activation is the plan and expiry an account gained by claiming a token.
type Activation struct {
	TokenID   string     `json:"-"`
	Plan      model.Plan `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type Activator struct {
	store TokenStore
	now   Clock
}

func NewActivator(store TokenStore, now Clock) *Activator {
	if now == nil {
		now = systemClock
	}
	return &Activator{store: store, now: now}
}

// Activate binds the token to accountID. At most one caller can ever succeed
// for a given token: the claim is a conditional write on the unset owner, so
// concurrent activations of the same record race on the store and all but
// one observe zero affected rows.
func (a *Activator) Activate(ctx context.Context, token string, accountID int64, accountEmail string) (Activation, error) {
	if token == "" {
		return Activation{}, ErrTokenNotFound
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		t, err := a.store.FindClaimable(ctx, token)
		if err != nil {
			return Activation{}, persistence("find token", err)
		}
		if t == nil {
			if attempt > 0 {
				return Activation{}, ErrAlreadyClaimed
			}
			return Activation{}, ErrTokenNotFound
		}

		ok, err := a.store.Claim(ctx, t.ID, accountID, accountEmail, a.now())
		if err != nil {
			return Activation{}, persistence("claim token", err)
		}
		if ok {
			return Activation{TokenID: t.ID, Plan: t.Plan, ExpiresAt: t.ExpiresAt}, nil
		}
	}

	return Activation{}, ErrAlreadyClaimed
}
