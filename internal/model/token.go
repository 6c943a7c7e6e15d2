package model

import "time"

// Plan is the entitlement tier a token grants once activated.
type Plan string

const (
	PlanShort     Plan = "short"
	PlanLong      Plan = "long"
	PlanUnlimited Plan = "unlimited"
)

// Plans lists every plan in display order.
var Plans = []Plan{PlanShort, PlanLong, PlanUnlimited}

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	switch p {
	case PlanShort, PlanLong, PlanUnlimited:
		return true
	}
	return false
}

// TTL returns how long a token of this plan stays usable after issuance.
// The boolean is false for plans that never expire.
func (p Plan) TTL() (time.Duration, bool) {
	switch p {
	case PlanShort:
		return 7 * 24 * time.Hour, true
	case PlanLong:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

type Token struct {
	ID          string     `json:"id" db:"id"`
	Token       string     `json:"token" db:"token"`
	Plan        Plan       `json:"plan" db:"plan"`
	Email       string     `json:"email" db:"email"`
	Valid       bool       `json:"valid" db:"valid"`
	OwnerID     *int64     `json:"owner_id" db:"owner_id"`
	ActivatedAt *time.Time `json:"activated_at" db:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Claimed reports whether the token has been bound to an account.
func (t *Token) Claimed() bool {
	return t.OwnerID != nil
}

// ExpiredAt reports whether the token's access window has closed at now.
// A token whose expiry equals now is expired.
func (t *Token) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Entitlement is the resolved, time-aware access right of an account.
type Entitlement struct {
	HasEntitlement bool       `json:"has_entitlement"`
	Plan           Plan       `json:"plan,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Expired        bool       `json:"expired,omitempty"`
}

// TokenStats counts tokens by lifecycle state.
type TokenStats struct {
	Unclaimed int64 `json:"unclaimed" db:"unclaimed"`
	Active    int64 `json:"active" db:"active"`
	Expired   int64 `json:"expired" db:"expired"`
	Revoked   int64 `json:"revoked" db:"revoked"`
}
