// Package jobs runs keygate's periodic background work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/keygate/internal/model"
)

// StatsSource counts tokens by state as of now.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (model.TokenStats, error)
}

// StatsSink receives fresh token counts.
type StatsSink interface {
	SetTokenStats(model.TokenStats)
}

const statsTimeout = 10 * time.Second

type Scheduler struct {
	cron   *cron.Cron
	source StatsSource
	sink   StatsSink
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(source StatsSource, sink StatsSink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		source: source,
		sink:   sink,
		logger: logger.With("component", "jobs"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the token stats refresh with a cron spec such as
// "@every 1m" and runs it once immediately.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RefreshStats); err != nil {
		return fmt.Errorf("schedule token stats %q: %w", spec, err)
	}
	s.RefreshStats()
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits up to ctx for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("stats job still running at shutdown")
	}
}

// RefreshStats recomputes the token gauges.
func (s *Scheduler) RefreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	stats, err := s.source.Stats(ctx, s.now())
	if err != nil {
		s.logger.Error("refresh token stats", "error", err)
		return
	}
	s.sink.SetTokenStats(stats)
	s.logger.Debug("token stats refreshed",
		"unclaimed", stats.Unclaimed,
		"active", stats.Active,
		"expired", stats.Expired,
		"revoked", stats.Revoked,
	)
}
