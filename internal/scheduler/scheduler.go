// Package scheduler drives automatic backups off a minute ticker and runs
// the retention pass after each scheduled backup.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/catalog"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/retention"
	"github.com/polarfoxDev/ballast/internal/schedule"
)

// Outcome of a single tick.
const (
	OutcomeIdle      = "idle"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped_overlap"
)

type Scheduler struct {
	db        *database.DB
	backups   *catalog.Service
	retention *retention.Engine
	logger    zerolog.Logger

	// running guards against a tick firing while the previous scheduled
	// backup is still in flight. One scheduled run at a time.
	running atomic.Bool
}

func New(db *database.DB, backups *catalog.Service, ret *retention.Engine, logger zerolog.Logger) *Scheduler {
	return &Scheduler{db: db, backups: backups, retention: ret, logger: logger}
}

// Run consumes tick times until ctx is cancelled or ticks closes. Matching
// ticks execute in their own goroutine so a slow backup never blocks the
// ticker, overlapping runs are refused by the guard instead.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			go func() {
				if _, err := s.Tick(ctx, now); err != nil {
					s.logger.Error().Err(err).Msg("scheduler tick failed")
				}
			}()
		}
	}
}

// Tick evaluates the persisted schedule against now and, on a match, runs
// a scheduled backup followed by a retention pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (string, error) {
	state, err := s.db.LoadScheduleState(ctx)
	if err != nil {
		return OutcomeFailed, model.StorageFailure("load schedule", err)
	}
	if !state.Enabled {
		return OutcomeIdle, nil
	}
	sched, err := schedule.Parse(state.Cron)
	if err != nil {
		return OutcomeFailed, err
	}
	if !sched.MatchesMinute(now) {
		return OutcomeIdle, nil
	}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Time("tick", now).Msg("scheduled backup still running, skipping tick")
		metrics.SchedulerRunsTotal.WithLabelValues(OutcomeSkipped).Inc()
		return OutcomeSkipped, nil
	}
	defer s.running.Store(false)

	outcome := s.runScheduled(ctx, state, now)

	state.LastRun = &now
	next := sched.Next(now)
	state.NextRun = &next
	if err := s.db.SaveScheduleState(ctx, state); err != nil {
		return OutcomeFailed, model.StorageFailure("save schedule", err)
	}

	metrics.SchedulerRunsTotal.WithLabelValues(outcome).Inc()
	return outcome, nil
}

func (s *Scheduler) runScheduled(ctx context.Context, state model.ScheduleState, now time.Time) string {
	b, err := s.backups.Create(ctx, catalog.CreateRequest{
		Name:    fmt.Sprintf("Scheduled %s backup %s", state.BackupType, now.Format("2006-01-02 15:04")),
		Type:    state.BackupType,
		Trigger: model.TriggerScheduled,
		Actor:   model.System,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled backup creation failed")
		return OutcomeFailed
	}

	done, err := s.backups.Run(ctx, b.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("backup", b.ID).Msg("scheduled backup run failed")
		return OutcomeFailed
	}
	s.logger.Info().Str("backup", done.ID).Str("status", string(done.Status)).Msg("scheduled backup finished")

	if _, err := s.retention.Apply(ctx, model.System); err != nil {
		s.logger.Error().Err(err).Msg("retention pass failed")
	}

	if done.Status != model.BackupCompleted {
		return OutcomeFailed
	}
	return OutcomeCompleted
}

// RefreshNextRun recomputes and persists the next activation, used after
// the schedule settings change.
func (s *Scheduler) RefreshNextRun(ctx context.Context, now time.Time) error {
	state, err := s.db.LoadScheduleState(ctx)
	if err != nil {
		return model.StorageFailure("load schedule", err)
	}
	if !state.Enabled {
		state.NextRun = nil
	} else {
		sched, err := schedule.Parse(state.Cron)
		if err != nil {
			return err
		}
		next := sched.Next(now)
		state.NextRun = &next
	}
	if err := s.db.SaveScheduleState(ctx, state); err != nil {
		return model.StorageFailure("save schedule", err)
	}
	return nil
}
