// Package catalog owns backup and backup-item records: creation, the item
// dump loop, status transitions and soft deletion.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/checksum"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
)

type Service struct {
	db     *database.DB
	store  storage.Store
	src    source.Source
	log    *activity.Log
	logger zerolog.Logger
}

func NewService(db *database.DB, store storage.Store, src source.Source, log *activity.Log, logger zerolog.Logger) *Service {
	return &Service{db: db, store: store, src: src, log: log, logger: logger}
}

// CreateRequest describes a new backup. An empty TableSelection means every
// unit the source knows for the backup type.
type CreateRequest struct {
	Name           string
	Description    string
	Type           model.BackupType
	Trigger        model.TriggerType
	TableSelection []string
	Actor          model.Actor
	Origin         string
}

// Create registers a pending backup with one pending item per selected
// unit. The dump itself happens in Run.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Backup, error) {
	if req.Name == "" {
		return nil, model.InvalidInputf("backup name must not be empty")
	}
	switch req.Type {
	case model.BackupFull, model.BackupDatabase, model.BackupFiles, model.BackupIncremental, model.BackupPreUpdate:
	default:
		return nil, model.InvalidInputf("unknown backup type %q", req.Type)
	}

	units, err := s.src.Units(ctx, model.ItemTypesForBackup(req.Type))
	if err != nil {
		return nil, model.StorageFailure("enumerate backup units", err)
	}
	if len(req.TableSelection) > 0 {
		selected := make(map[string]bool, len(req.TableSelection))
		for _, name := range req.TableSelection {
			selected[name] = true
		}
		filtered := units[:0]
		for _, u := range units {
			if u.Type != model.ItemTable || selected[u.Name] {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	if len(units) == 0 {
		return nil, model.InvalidInputf("no backup units match the request")
	}

	now := time.Now()
	b := &model.Backup{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Trigger:     req.Trigger,
		Status:      model.BackupPending,
		CreatedBy:   req.Actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.TableSelection) > 0 {
		b.Metadata = map[string]string{"tableSelection": fmt.Sprintf("%d tables", len(req.TableSelection))}
	}

	items := make([]model.BackupItem, 0, len(units))
	for _, u := range units {
		items = append(items, model.BackupItem{
			ID:         uuid.NewString(),
			BackupID:   b.ID,
			Type:       u.Type,
			Name:       u.Name,
			StorageKey: fmt.Sprintf("backups/%s/%s/%s", b.ID, u.Type, u.Name),
			Status:     model.ItemPending,
		})
	}

	if err := s.db.CreateBackupWithItems(ctx, b, items); err != nil {
		return nil, model.StorageFailure("register backup", err)
	}

	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityBackupCreated,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    req.Actor.ID,
		ActorName:  req.Actor.Name,
		Details:    fmt.Sprintf("%s backup with %d items", b.Type, len(items)),
		Origin:     req.Origin,
	})
	return b, nil
}

// Run executes a pending backup: dumps every item, then settles the parent
// status. Item failures are recorded per item and never abort the run.
func (s *Service) Run(ctx context.Context, backupID string) (*model.Backup, error) {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateBackupTransition(b.Status, model.BackupInProgress); err != nil {
		return nil, err
	}
	b.Status = model.BackupInProgress
	if err := s.db.UpdateBackup(ctx, b); err != nil {
		return nil, model.StorageFailure("start backup", err)
	}

	items, err := s.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}

	// Bookkeeping writes must land even when the caller's context is
	// cancelled mid-run, otherwise the backup is stuck in_progress.
	bg := context.WithoutCancel(ctx)

	cancelled := false
	for i := range items {
		it := &items[i]
		if it.Status != model.ItemPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation at item granularity: remaining
			// items are skipped and the backup settles as failed.
			cancelled = true
			it.Status = model.ItemSkipped
			it.Error = "cancelled"
			if err := s.db.UpdateItem(bg, it); err != nil {
				return nil, model.StorageFailure("skip item", err)
			}
			continue
		}
		if err := s.dumpItem(ctx, it); err != nil {
			s.logger.Warn().Err(err).Str("backup", backupID).Str("item", it.Name).Msg("backup item failed")
			if err := s.MarkItemFailed(bg, it.ID, err.Error()); err != nil {
				return nil, err
			}
		}
	}

	if cancelled {
		return s.Fail(bg, backupID, "cancelled before all items were processed")
	}
	return s.settle(bg, backupID)
}

func (s *Service) dumpItem(ctx context.Context, it *model.BackupItem) error {
	content, recordCount, err := s.src.Dump(ctx, source.Unit{Type: it.Type, Name: it.Name})
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := s.store.Write(ctx, it.StorageKey, content); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	var rc *int
	if recordCount >= 0 {
		rc = &recordCount
	}
	return s.MarkItemComplete(ctx, it.ID, int64(len(content)), rc, checksum.Digest(content))
}

// MarkItemComplete records a finished item dump.
func (s *Service) MarkItemComplete(ctx context.Context, itemID string, size int64, recordCount *int, digest string) error {
	it, err := s.db.GetItem(ctx, itemID)
	if err != nil {
		return model.StorageFailure("load item", err)
	}
	if it == nil {
		return model.NotFoundf("backup item %s", itemID)
	}
	if it.Status != model.ItemPending {
		return model.InvalidStatef("item %s is %s, not pending", itemID, it.Status)
	}
	it.SizeBytes = size
	it.RecordCount = recordCount
	it.Checksum = digest
	it.Status = model.ItemCompleted
	it.Error = ""
	if err := s.db.UpdateItem(ctx, it); err != nil {
		return model.StorageFailure("update item", err)
	}
	metrics.BackupItemsTotal.WithLabelValues(string(model.ItemCompleted)).Inc()
	return nil
}

// MarkItemFailed records a failed item dump without touching the parent.
func (s *Service) MarkItemFailed(ctx context.Context, itemID, message string) error {
	it, err := s.db.GetItem(ctx, itemID)
	if err != nil {
		return model.StorageFailure("load item", err)
	}
	if it == nil {
		return model.NotFoundf("backup item %s", itemID)
	}
	if it.Status != model.ItemPending {
		return model.InvalidStatef("item %s is %s, not pending", itemID, it.Status)
	}
	it.Status = model.ItemFailed
	it.Error = message
	if err := s.db.UpdateItem(ctx, it); err != nil {
		return model.StorageFailure("update item", err)
	}
	metrics.BackupItemsTotal.WithLabelValues(string(model.ItemFailed)).Inc()
	return nil
}

// settle finishes an in-progress backup once every item is resolved. At
// least one completed item makes the backup completed; all-failed makes it
// failed.
func (s *Service) settle(ctx context.Context, backupID string) (*model.Backup, error) {
	items, err := s.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}
	completed, failed := 0, 0
	for _, it := range items {
		switch it.Status {
		case model.ItemCompleted:
			completed++
		case model.ItemFailed, model.ItemSkipped:
			failed++
		}
	}
	if completed == 0 {
		b, err := s.Fail(ctx, backupID, fmt.Sprintf("all %d items failed", failed))
		return b, err
	}
	return s.Complete(ctx, backupID)
}

// Complete transitions an in-progress backup to completed, requiring every
// item to be resolved, and fills in the aggregate size, counts and checksum.
func (s *Service) Complete(ctx context.Context, backupID string) (*model.Backup, error) {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateBackupTransition(b.Status, model.BackupCompleted); err != nil {
		return nil, err
	}

	items, err := s.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}

	var size int64
	tableCount, fileCount := 0, 0
	sums := make(map[string]string)
	for _, it := range items {
		if it.Status == model.ItemPending {
			return nil, model.InvalidStatef("backup %s has pending item %s", backupID, it.Name)
		}
		if it.Status == model.ItemSkipped {
			continue
		}
		switch it.Type {
		case model.ItemTable:
			tableCount++
		default:
			fileCount++
		}
		if it.Status == model.ItemCompleted {
			size += it.SizeBytes
			sums[it.Name] = it.Checksum
		}
	}

	now := time.Now()
	b.Status = model.BackupCompleted
	b.SizeBytes = size
	b.TableCount = tableCount
	b.FileCount = fileCount
	b.Checksum = checksum.Aggregate(sums)
	b.CompletedAt = &now
	b.Error = ""

	if policy, err := s.db.LoadRetentionPolicy(ctx); err == nil && policy.Enabled {
		expiry := b.CreatedAt.AddDate(0, 0, policy.RetentionDays)
		b.ExpiresAt = &expiry
	}

	if err := s.db.UpdateBackup(ctx, b); err != nil {
		return nil, model.StorageFailure("complete backup", err)
	}
	metrics.BackupsTotal.WithLabelValues(string(b.Trigger), string(model.BackupCompleted)).Inc()
	return b, nil
}

// Fail transitions an in-progress backup to failed with the given message.
func (s *Service) Fail(ctx context.Context, backupID, message string) (*model.Backup, error) {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateBackupTransition(b.Status, model.BackupFailed); err != nil {
		return nil, err
	}
	now := time.Now()
	b.Status = model.BackupFailed
	b.Error = message
	b.CompletedAt = &now
	if err := s.db.UpdateBackup(ctx, b); err != nil {
		return nil, model.StorageFailure("fail backup", err)
	}
	metrics.BackupsTotal.WithLabelValues(string(b.Trigger), string(model.BackupFailed)).Inc()
	return b, nil
}

// SoftDelete marks a completed backup deleted. Stored payloads are kept;
// purging storage is a separate maintenance concern.
func (s *Service) SoftDelete(ctx context.Context, backupID string, actor model.Actor, origin string) error {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return err
	}
	if err := model.ValidateBackupTransition(b.Status, model.BackupDeleted); err != nil {
		return err
	}
	b.Status = model.BackupDeleted
	if err := s.db.UpdateBackup(ctx, b); err != nil {
		return model.StorageFailure("delete backup", err)
	}

	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityBackupDeleted,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Origin:     origin,
	})
	return nil
}

// UpdateNotes replaces a backup's free-form notes.
func (s *Service) UpdateNotes(ctx context.Context, backupID, notes string, actor model.Actor, origin string) error {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return err
	}
	b.Notes = notes
	if err := s.db.UpdateBackup(ctx, b); err != nil {
		return model.StorageFailure("update backup notes", err)
	}
	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityNotesUpdated,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Origin:     origin,
	})
	return nil
}

// Get returns a backup or NotFound.
func (s *Service) Get(ctx context.Context, backupID string) (*model.Backup, error) {
	return s.getExisting(ctx, backupID)
}

// Items returns a backup's items or NotFound.
func (s *Service) Items(ctx context.Context, backupID string) ([]model.BackupItem, error) {
	if _, err := s.getExisting(ctx, backupID); err != nil {
		return nil, err
	}
	items, err := s.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}
	return items, nil
}

// List returns backups matching the filter.
func (s *Service) List(ctx context.Context, f database.BackupFilter) ([]model.Backup, error) {
	backups, err := s.db.ListBackups(ctx, f)
	if err != nil {
		return nil, model.StorageFailure("list backups", err)
	}
	return backups, nil
}

// RecordDownload logs that a caller downloaded the backup's payloads.
func (s *Service) RecordDownload(ctx context.Context, backupID string, actor model.Actor, origin string) error {
	b, err := s.getExisting(ctx, backupID)
	if err != nil {
		return err
	}
	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityBackupDownloaded,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Origin:     origin,
	})
	return nil
}

func (s *Service) getExisting(ctx context.Context, backupID string) (*model.Backup, error) {
	b, err := s.db.GetBackup(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup", err)
	}
	if b == nil {
		return nil, model.NotFoundf("backup %s", backupID)
	}
	return b, nil
}
