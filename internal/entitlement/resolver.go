package entitlement

import (
	"context"

	"github.com/dukerupert/keygate/internal/model"
)

type Resolver struct {
	store TokenStore
	now   Clock
}

func NewResolver(store TokenStore, now Clock) *Resolver {
	if now == nil {
		now = systemClock
	}
	return &Resolver{store: store, now: now}
}

// Resolve reports the current entitlement of accountID, judged against the
// wall clock at the time of the call. Expiry is never written back.
func (r *Resolver) Resolve(ctx context.Context, accountID int64) (model.Entitlement, error) {
	t, err := r.store.LatestOwned(ctx, accountID)
	if err != nil {
		return model.Entitlement{}, persistence("latest owned token", err)
	}
	if t == nil {
		return model.Entitlement{}, nil
	}

	ent := model.Entitlement{Plan: t.Plan, ExpiresAt: t.ExpiresAt}
	if t.ExpiredAt(r.now()) {
		ent.Expired = true
		return ent, nil
	}
	ent.HasEntitlement = true
	return ent, nil
}
