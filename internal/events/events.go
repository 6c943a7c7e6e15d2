// Package events describes token lifecycle notifications and fans them out
// to subscribers such as the admin websocket feed and NATS.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

// Event types.
const (
	TokenIssued    = "token.issued"
	TokenActivated = "token.activated"
	TokenRevoked   = "token.revoked"
)

// Event is a single token lifecycle notification. The activation code itself
// is never included.
type Event struct {
	Type      string     `json:"type"`
	TokenID   string     `json:"token_id"`
	Plan      model.Plan `json:"plan,omitempty"`
	OwnerID   *int64     `json:"owner_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	At        time.Time  `json:"at"`
}

// Publisher delivers events. Implementations must not block the caller for
// long and must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout delivers each event to every publisher, logging failures instead of
// returning them: notification delivery never fails a token operation.
type Fanout struct {
	pubs   []Publisher
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, pubs ...Publisher) *Fanout {
	f := &Fanout{logger: logger.With("component", "events")}
	for _, p := range pubs {
		if p != nil {
			f.pubs = append(f.pubs, p)
		}
	}
	return f
}

// Emit stamps ev with the current time if unset and publishes it.
func (f *Fanout) Emit(ctx context.Context, ev Event) {
	if f == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, p := range f.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			f.logger.Warn("publish event", "type", ev.Type, "token_id", ev.TokenID, "error", err)
		}
	}
}

// FromToken builds an event of the given type from a stored token.
func FromToken(typ string, t *model.Token) Event {
	return Event{
		Type:      typ,
		TokenID:   t.ID,
		Plan:      t.Plan,
		OwnerID:   t.OwnerID,
		ExpiresAt: t.ExpiresAt,
	}
}
