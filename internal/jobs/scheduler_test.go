package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	stats model.TokenStats
	err   error
	calls int
	at    time.Time
}

func (f *fakeSource) Stats(_ context.Context, now time.Time) (model.TokenStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.at = now
	return f.stats, f.err
}

type fakeSink struct {
	mu   sync.Mutex
	last *model.TokenStats
}

func (f *fakeSink) SetTokenStats(s model.TokenStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &s
}

func TestRefreshStats(t *testing.T) {
	src := &fakeSource{stats: model.TokenStats{Unclaimed: 2, Active: 1}}
	sink := &fakeSink{}
	s := NewScheduler(src, sink, slog.Default())
	fixed := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RefreshStats()

	if sink.last == nil || sink.last.Unclaimed != 2 || sink.last.Active != 1 {
		t.Fatalf("sink got %+v", sink.last)
	}
	if !src.at.Equal(fixed) {
		t.Errorf("stats computed at %v, want %v", src.at, fixed)
	}
}

func TestRefreshStatsErrorKeepsGauge(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	sink := &fakeSink{}
	NewScheduler(src, sink, slog.Default()).RefreshStats()

	if sink.last != nil {
		t.Errorf("sink updated on error: %+v", sink.last)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	src := &fakeSource{}
	s := NewScheduler(src, &fakeSink{}, slog.Default())
	if err := s.Start("@every 1h"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestStartBadSpec(t *testing.T) {
	s := NewScheduler(&fakeSource{}, &fakeSink{}, slog.Default())
	if err := s.Start("not a spec"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
