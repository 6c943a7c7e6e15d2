package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

// memStore is an in-memory TokenStore with the same conditional-claim
// semantics as the SQL stores.
type memStore struct {
	mu     sync.Mutex
	tokens map[string]*model.Token
	order  []string
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]*model.Token)}
}

func (s *memStore) Insert(_ context.Context, t *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.ID] = &cp
	s.order = append(s.order, t.ID)
	return nil
}

func (s *memStore) FindClaimable(_ context.Context, token string) (*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == token && t.Valid && t.OwnerID == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Claim(_ context.Context, id string, ownerID int64, email string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || !t.Valid || t.OwnerID != nil {
		return false, nil
	}
	owner := ownerID
	t.OwnerID = &owner
	t.ActivatedAt = &at
	if t.Email == "" {
		t.Email = email
	}
	return true, nil
}

func (s *memStore) LatestOwned(_ context.Context, ownerID int64) (*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tokens[s.order[i]]
		if t.OwnerID != nil && *t.OwnerID == ownerID && t.Valid {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) get(id string) *model.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[id]
}

func (s *memStore) byCode(code string) *model.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == code {
			return t
		}
	}
	return nil
}

var errStoreDown = errors.New("store unreachable")

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Insert(context.Context, *model.Token) error { return errStoreDown }
func (failingStore) FindClaimable(context.Context, string) (*model.Token, error) {
	return nil, errStoreDown
}
func (failingStore) Claim(context.Context, string, int64, string, time.Time) (bool, error) {
	return false, errStoreDown
}
func (failingStore) LatestOwned(context.Context, int64) (*model.Token, error) {
	return nil, errStoreDown
}

// racingStore loses every claim, as if another activator always got there
// first between the read and the write.
type racingStore struct {
	*memStore
	claims int
}

func (s *racingStore) Claim(ctx context.Context, id string, ownerID int64, email string, at time.Time) (bool, error) {
	s.claims++
	return false, nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
