package entitlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/keygate/internal/model"
	"github.com/google/uuid"
)

// tokenBytes is the amount of randomness behind each activation code.
const tokenBytes = 16

// Issued is what the caller learns about a freshly issued token.
type Issued struct {
	ID        string     `json:"-"`
	Token     string     `json:"token"`
	Plan      model.Plan `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type Issuer struct {
	store TokenStore
	now   Clock
}

func NewIssuer(store TokenStore, now Clock) *Issuer {
	if now == nil {
		now = systemClock
	}
	return &Issuer{store: store, now: now}
}

// generateToken returns a hex-encoded random activation code.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a new unclaimed token for plan. The email hint is stored
// with the record and may be empty.
func (i *Issuer) Issue(ctx context.Context, plan model.Plan, email string) (Issued, error) {
	if !plan.Valid() {
		return Issued{}, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	code, err := generateToken()
	if err != nil {
		return Issued{}, err
	}

	now := i.now()
	t := &model.Token{
		ID:        uuid.NewString(),
		Token:     code,
		Plan:      plan,
		Email:     email,
		Valid:     true,
		CreatedAt: now,
	}
	if ttl, ok := plan.TTL(); ok {
		exp := now.Add(ttl)
		t.ExpiresAt = &exp
	}

	if err := i.store.Insert(ctx, t); err != nil {
		return Issued{}, persistence("insert token", err)
	}

	return Issued{ID: t.ID, Token: t.Token, Plan: t.Plan, ExpiresAt: t.ExpiresAt}, nil
}
