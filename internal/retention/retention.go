// Package retention decides which settled backups have outlived the
// retention window and removes them.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
)

// Skip reasons reported by Evaluate.
const (
	SkipWithinWindow   = "within_retention_window"
	SkipLabelProtected = "protected_by_label"
	SkipManualCreated  = "protected_manual_backup"
)

// SkippedBackup is a retention candidate that survived the pass.
type SkippedBackup struct {
	Backup model.Backup `json:"backup"`
	Reason string       `json:"reason"`
}

// Decision is the outcome of evaluating a policy against the catalog.
type Decision struct {
	ToDelete []model.Backup  `json:"toDelete"`
	Skipped  []SkippedBackup `json:"skipped"`
}

// Evaluate applies the policy to the given backups. Candidates are the
// completed and failed ones; anything still running is left alone.
// labelCounts maps backup IDs to the number of labels assigned. The
// function has no side effects, Apply acts on its result.
func Evaluate(policy model.RetentionPolicy, backups []model.Backup, labelCounts map[string]int, now time.Time) Decision {
	// Initialize as empty slices so JSON encodes as [] instead of null.
	d := Decision{ToDelete: []model.Backup{}, Skipped: []SkippedBackup{}}
	if !policy.Enabled {
		return d
	}
	cutoff := now.AddDate(0, 0, -policy.RetentionDays)
	for _, b := range backups {
		if b.Status != model.BackupCompleted && b.Status != model.BackupFailed {
			continue
		}
		if !b.CreatedAt.Before(cutoff) {
			d.Skipped = append(d.Skipped, SkippedBackup{Backup: b, Reason: SkipWithinWindow})
			continue
		}
		if policy.ProtectLabeled && labelCounts[b.ID] > 0 {
			d.Skipped = append(d.Skipped, SkippedBackup{Backup: b, Reason: SkipLabelProtected})
			continue
		}
		if policy.ProtectManual && b.Trigger == model.TriggerManual {
			d.Skipped = append(d.Skipped, SkippedBackup{Backup: b, Reason: SkipManualCreated})
			continue
		}
		d.ToDelete = append(d.ToDelete, b)
	}
	return d
}

type Engine struct {
	db     *database.DB
	log    *activity.Log
	logger zerolog.Logger
}

func NewEngine(db *database.DB, log *activity.Log, logger zerolog.Logger) *Engine {
	return &Engine{db: db, log: log, logger: logger}
}

func (e *Engine) decide(ctx context.Context, now time.Time) (model.RetentionPolicy, Decision, error) {
	policy, err := e.db.LoadRetentionPolicy(ctx)
	if err != nil {
		return policy, Decision{}, model.StorageFailure("load retention policy", err)
	}
	backups, err := e.db.ListBackups(ctx, database.BackupFilter{Statuses: []model.BackupStatus{model.BackupCompleted, model.BackupFailed}})
	if err != nil {
		return policy, Decision{}, model.StorageFailure("list backups", err)
	}
	labelCounts, err := e.db.LabelCountsByBackup(ctx)
	if err != nil {
		return policy, Decision{}, model.StorageFailure("count labels", err)
	}
	return policy, Evaluate(policy, backups, labelCounts, now), nil
}

// Preview reports what a retention pass would delete right now without
// touching anything.
func (e *Engine) Preview(ctx context.Context) (Decision, error) {
	_, d, err := e.decide(ctx, time.Now())
	return d, err
}

// Result summarizes an executed retention pass.
type Result struct {
	DeletedCount int `json:"deletedCount"`
	SkippedCount int `json:"skippedCount"`
}

// Apply runs a retention pass: expired unprotected backups are marked
// deleted and the policy's bookkeeping fields are advanced. A disabled
// policy makes Apply a no-op.
func (e *Engine) Apply(ctx context.Context, actor model.Actor) (Result, error) {
	now := time.Now()
	policy, d, err := e.decide(ctx, now)
	if err != nil {
		return Result{}, err
	}
	if !policy.Enabled {
		return Result{}, nil
	}

	deleted := 0
	for _, b := range d.ToDelete {
		b.Status = model.BackupDeleted
		if err := e.db.UpdateBackup(ctx, &b); err != nil {
			e.logger.Error().Err(err).Str("backup", b.ID).Msg("retention delete failed")
			continue
		}
		deleted++
		metrics.RetentionDeletedTotal.Inc()
		e.logger.Info().Str("backup", b.ID).Str("name", b.Name).Time("createdAt", b.CreatedAt).Msg("backup removed by retention")
	}

	policy.DeletedCount += int64(deleted)
	policy.LastCleanup = &now
	if err := e.db.SaveRetentionPolicy(ctx, policy); err != nil {
		return Result{}, model.StorageFailure("save retention policy", err)
	}

	e.log.Record(model.ActivityEntry{
		Type:      model.ActivityRetentionCleanup,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Details:   fmt.Sprintf("deleted %d backups, skipped %d", deleted, len(d.Skipped)),
	})
	return Result{DeletedCount: deleted, SkippedCount: len(d.Skipped)}, nil
}
