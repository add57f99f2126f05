// Package rollback restores backed-up payloads into the live source. At
// most one rollback is active system-wide at any time.
package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
)

type Engine struct {
	db     *database.DB
	store  storage.Store
	src    source.Source
	log    *activity.Log
	logger zerolog.Logger

	// mu serializes the active-rollback check against the insert, so two
	// concurrent starts cannot both slip past the guard.
	mu sync.Mutex
}

func NewEngine(db *database.DB, store storage.Store, src source.Source, log *activity.Log, logger zerolog.Logger) *Engine {
	return &Engine{db: db, store: store, src: src, log: log, logger: logger}
}

// StartRequest describes a rollback to be registered.
type StartRequest struct {
	BackupID   string
	Type       model.RollbackType
	TableNames []string
	Notes      string
	Actor      model.Actor
	Origin     string
}

// Start validates the request and registers a pending rollback. A second
// rollback while one is pending or in progress is refused with a conflict.
// Execute performs the actual restore.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*model.Rollback, error) {
	switch req.Type {
	case model.RollbackFull, model.RollbackDatabase, model.RollbackFiles:
		if len(req.TableNames) > 0 {
			return nil, model.InvalidInputf("table names are only valid for partial rollbacks")
		}
	case model.RollbackPartial:
		if len(req.TableNames) == 0 {
			return nil, model.InvalidInputf("partial rollback requires at least one table name")
		}
	default:
		return nil, model.InvalidInputf("unknown rollback type %q", req.Type)
	}

	b, err := e.db.GetBackup(ctx, req.BackupID)
	if err != nil {
		return nil, model.StorageFailure("load backup", err)
	}
	if b == nil {
		return nil, model.NotFoundf("backup %s", req.BackupID)
	}
	if b.Status != model.BackupCompleted {
		return nil, model.InvalidStatef("backup %s is %s, only completed backups can be restored", b.ID, b.Status)
	}

	// Resolve eligibility up front so an invalid partial selection never
	// creates a rollback record.
	if _, err := e.eligibleItems(ctx, b.ID, req.Type, req.TableNames); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	active, err := e.db.HasActiveRollback(ctx)
	if err != nil {
		return nil, model.StorageFailure("check active rollbacks", err)
	}
	if active {
		return nil, model.Conflictf("another rollback is already in progress")
	}

	now := time.Now()
	r := &model.Rollback{
		ID:          uuid.NewString(),
		BackupID:    b.ID,
		Type:        req.Type,
		Status:      model.RollbackPending,
		TableNames:  req.TableNames,
		InitiatedBy: req.Actor.ID,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.db.CreateRollback(ctx, r); err != nil {
		return nil, model.StorageFailure("register rollback", err)
	}
	return r, nil
}

// Execute runs a pending rollback: each eligible item's payload is read
// back from storage and written into the source. Item failures are counted
// and never abort the pass.
func (e *Engine) Execute(ctx context.Context, rollbackID string, actor model.Actor, origin string) (*model.Rollback, error) {
	r, err := e.getExisting(ctx, rollbackID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateRollbackTransition(r.Status, model.RollbackInProgress); err != nil {
		return nil, err
	}
	r.Status = model.RollbackInProgress
	if err := e.db.UpdateRollback(ctx, r); err != nil {
		return nil, model.StorageFailure("start rollback", err)
	}

	b, err := e.db.GetBackup(ctx, r.BackupID)
	if err != nil {
		return nil, model.StorageFailure("load backup", err)
	}
	items, err := e.eligibleItems(ctx, r.BackupID, r.Type, r.TableNames)
	if err != nil {
		return nil, err
	}

	// The restore must settle even when the caller goes away mid-run.
	bg := context.WithoutCancel(ctx)

	for _, it := range items {
		if err := e.restoreItem(ctx, it); err != nil {
			e.logger.Error().Err(err).Str("rollback", r.ID).Str("item", it.Name).Msg("item restore failed")
			r.ItemsFailed++
			continue
		}
		r.ItemsRestored++
	}

	now := time.Now()
	r.CompletedAt = &now
	if r.ItemsFailed == 0 {
		r.Status = model.RollbackCompleted
	} else {
		r.Status = model.RollbackFailed
		r.Error = fmt.Sprintf("%d of %d items failed to restore", r.ItemsFailed, len(items))
	}
	if err := e.db.UpdateRollback(bg, r); err != nil {
		return nil, model.StorageFailure("finish rollback", err)
	}
	metrics.RollbacksTotal.WithLabelValues(string(r.Status)).Inc()

	status := model.ActivitySuccess
	if r.Status == model.RollbackFailed {
		status = model.ActivityFailed
	}
	e.log.Record(model.ActivityEntry{
		Type:       model.ActivityBackupRestored,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Status:     status,
		Details:    fmt.Sprintf("%s rollback: %d restored, %d failed", r.Type, r.ItemsRestored, r.ItemsFailed),
		Origin:     origin,
	})
	return r, nil
}

// Run registers and immediately executes a rollback.
func (e *Engine) Run(ctx context.Context, req StartRequest) (*model.Rollback, error) {
	r, err := e.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, r.ID, req.Actor, req.Origin)
}

// Cancel aborts a rollback that has not started processing yet.
func (e *Engine) Cancel(ctx context.Context, rollbackID string, actor model.Actor, origin string) (*model.Rollback, error) {
	r, err := e.getExisting(ctx, rollbackID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateRollbackTransition(r.Status, model.RollbackCancelled); err != nil {
		return nil, err
	}
	r.Status = model.RollbackCancelled
	if err := e.db.UpdateRollback(ctx, r); err != nil {
		return nil, model.StorageFailure("cancel rollback", err)
	}
	metrics.RollbacksTotal.WithLabelValues(string(model.RollbackCancelled)).Inc()
	return r, nil
}

// Get returns a rollback or NotFound.
func (e *Engine) Get(ctx context.Context, rollbackID string) (*model.Rollback, error) {
	return e.getExisting(ctx, rollbackID)
}

// List returns rollbacks, newest first, optionally limited to one backup.
func (e *Engine) List(ctx context.Context, backupID string, limit int) ([]model.Rollback, error) {
	rollbacks, err := e.db.ListRollbacks(ctx, backupID, limit)
	if err != nil {
		return nil, model.StorageFailure("list rollbacks", err)
	}
	return rollbacks, nil
}

func (e *Engine) restoreItem(ctx context.Context, it model.BackupItem) error {
	content, err := e.store.Read(ctx, it.StorageKey)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if err := e.src.Restore(ctx, source.Unit{Type: it.Type, Name: it.Name}, content); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// eligibleItems resolves which completed items a rollback of the given
// type touches. Partial selections must name backed-up tables exactly.
func (e *Engine) eligibleItems(ctx context.Context, backupID string, typ model.RollbackType, tableNames []string) ([]model.BackupItem, error) {
	items, err := e.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}

	completed := make(map[string]model.BackupItem)
	eligible := []model.BackupItem{}
	for _, it := range items {
		if it.Status != model.ItemCompleted {
			continue
		}
		completed[it.Name] = it
		switch typ {
		case model.RollbackFull:
			eligible = append(eligible, it)
		case model.RollbackDatabase:
			if it.Type == model.ItemTable {
				eligible = append(eligible, it)
			}
		case model.RollbackFiles:
			if it.Type == model.ItemFile || it.Type == model.ItemConfig {
				eligible = append(eligible, it)
			}
		}
	}

	if typ == model.RollbackPartial {
		for _, name := range tableNames {
			it, ok := completed[name]
			if !ok || it.Type != model.ItemTable {
				return nil, model.InvalidInputf("table %q is not part of backup %s", name, backupID)
			}
			eligible = append(eligible, it)
		}
	}

	if len(eligible) == 0 {
		return nil, model.InvalidInputf("backup %s has no restorable items for a %s rollback", backupID, typ)
	}
	return eligible, nil
}

func (e *Engine) getExisting(ctx context.Context, rollbackID string) (*model.Rollback, error) {
	r, err := e.db.GetRollback(ctx, rollbackID)
	if err != nil {
		return nil, model.StorageFailure("load rollback", err)
	}
	if r == nil {
		return nil, model.NotFoundf("rollback %s", rollbackID)
	}
	return r, nil
}
