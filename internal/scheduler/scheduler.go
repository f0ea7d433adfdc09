// Package scheduler runs the periodic outbox jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-cap-alerts/internal/config"
	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
)

type Retrier interface {
	RetryUnsent(ctx context.Context, minAge time.Duration, limit int) (*dispatch.Report, error)
}

type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	cfg     config.DispatchConfig
	retrier Retrier
	pruner  Pruner
	ctx     context.Context
}

func NewScheduler(cfg config.DispatchConfig, retrier Retrier, pruner Pruner) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:     cfg,
		retrier: retrier,
		pruner:  pruner,
	}
}

// Start registers the jobs and starts the cron runner. ctx bounds every job
// run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.cfg.RetrySchedule, s.retryUnsent); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, s.pruneLimiter); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler started", "retry", s.cfg.RetrySchedule, "prune", s.cfg.PruneSchedule)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) retryUnsent() {
	report, err := s.retrier.RetryUnsent(s.ctx, s.cfg.RetryMinAge, s.cfg.RetryBatch)
	if err != nil {
		slog.Error("retry of unsent entries failed", "error", err)
		return
	}
	if len(report.EntryIDs) > 0 {
		slog.Info("retried unsent entries", "entries", len(report.EntryIDs), "counts", report.Counts, "deferred", len(report.Deferred))
	}
}

func (s *Scheduler) pruneLimiter() {
	n, err := s.pruner.Prune(s.ctx)
	if err != nil {
		slog.Error("limiter prune failed", "error", err)
		return
	}
	slog.Debug("limiter pruned", "rows", n)
}
