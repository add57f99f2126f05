// Package labels manages user-defined backup labels and their assignments.
// Labeled backups can be protected from retention cleanup.
package labels

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
)

const maxNameLength = 50

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Service struct {
	db     *database.DB
	log    *activity.Log
	logger zerolog.Logger
}

func NewService(db *database.DB, log *activity.Log, logger zerolog.Logger) *Service {
	return &Service{db: db, log: log, logger: logger}
}

type CreateRequest struct {
	Name        string
	Color       string
	Description string
	Actor       model.Actor
	Origin      string
}

// Create registers a new label. Names are unique system-wide, colors are
// six-digit hex values like #FF8800.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.BackupLabel, error) {
	if req.Name == "" {
		return nil, model.InvalidInputf("label name must not be empty")
	}
	if len(req.Name) > maxNameLength {
		return nil, model.InvalidInputf("label name exceeds %d characters", maxNameLength)
	}
	if !colorPattern.MatchString(req.Color) {
		return nil, model.InvalidInputf("label color %q is not a six-digit hex value", req.Color)
	}

	existing, err := s.db.GetLabelByName(ctx, req.Name)
	if err != nil {
		return nil, model.StorageFailure("look up label", err)
	}
	if existing != nil {
		return nil, model.Conflictf("label %q already exists", req.Name)
	}

	l := &model.BackupLabel{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		CreatedBy:   req.Actor.ID,
		CreatedAt:   time.Now(),
	}
	if err := s.db.CreateLabel(ctx, l); err != nil {
		return nil, model.StorageFailure("create label", err)
	}
	return l, nil
}

// Delete removes a label and every assignment of it.
func (s *Service) Delete(ctx context.Context, labelID string, actor model.Actor, origin string) error {
	l, err := s.db.GetLabel(ctx, labelID)
	if err != nil {
		return model.StorageFailure("look up label", err)
	}
	if l == nil {
		return model.NotFoundf("label %s", labelID)
	}
	if err := s.db.DeleteLabel(ctx, labelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NotFoundf("label %s", labelID)
		}
		return model.StorageFailure("delete label", err)
	}
	s.logger.Info().Str("label", l.Name).Msg("label deleted")
	return nil
}

// Assign attaches a label to a backup. Assigning an already-assigned label
// is a no-op.
func (s *Service) Assign(ctx context.Context, backupID, labelID string, actor model.Actor, origin string) error {
	b, l, err := s.pair(ctx, backupID, labelID)
	if err != nil {
		return err
	}
	if err := s.db.AssignLabel(ctx, backupID, labelID); err != nil {
		return model.StorageFailure("assign label", err)
	}
	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityLabelAssigned,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Details:    l.Name,
		Origin:     origin,
	})
	return nil
}

// Remove detaches a label from a backup.
func (s *Service) Remove(ctx context.Context, backupID, labelID string, actor model.Actor, origin string) error {
	b, l, err := s.pair(ctx, backupID, labelID)
	if err != nil {
		return err
	}
	if err := s.db.RemoveLabel(ctx, backupID, labelID); err != nil {
		return model.StorageFailure("remove label", err)
	}
	s.log.Record(model.ActivityEntry{
		Type:       model.ActivityLabelRemoved,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Details:    l.Name,
		Origin:     origin,
	})
	return nil
}

// List returns all labels ordered by name.
func (s *Service) List(ctx context.Context) ([]model.BackupLabel, error) {
	labels, err := s.db.ListLabels(ctx)
	if err != nil {
		return nil, model.StorageFailure("list labels", err)
	}
	return labels, nil
}

// ForBackup returns a backup's labels.
func (s *Service) ForBackup(ctx context.Context, backupID string) ([]model.BackupLabel, error) {
	labels, err := s.db.LabelsForBackup(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("list backup labels", err)
	}
	return labels, nil
}

// WithLabel returns the backups carrying the given label.
func (s *Service) WithLabel(ctx context.Context, labelID string) ([]model.Backup, error) {
	l, err := s.db.GetLabel(ctx, labelID)
	if err != nil {
		return nil, model.StorageFailure("look up label", err)
	}
	if l == nil {
		return nil, model.NotFoundf("label %s", labelID)
	}
	ids, err := s.db.BackupsWithLabel(ctx, labelID)
	if err != nil {
		return nil, model.StorageFailure("list labeled backups", err)
	}

	// Initialize as empty slice so JSON encodes as [] instead of null
	backups := make([]model.Backup, 0, len(ids))
	for _, id := range ids {
		b, err := s.db.GetBackup(ctx, id)
		if err != nil {
			return nil, model.StorageFailure("load backup", err)
		}
		if b == nil {
			continue
		}
		backups = append(backups, *b)
	}
	return backups, nil
}

func (s *Service) pair(ctx context.Context, backupID, labelID string) (*model.Backup, *model.BackupLabel, error) {
	b, err := s.db.GetBackup(ctx, backupID)
	if err != nil {
		return nil, nil, model.StorageFailure("load backup", err)
	}
	if b == nil {
		return nil, nil, model.NotFoundf("backup %s", backupID)
	}
	l, err := s.db.GetLabel(ctx, labelID)
	if err != nil {
		return nil, nil, model.StorageFailure("look up label", err)
	}
	if l == nil {
		return nil, nil, model.NotFoundf("label %s", labelID)
	}
	return b, l, nil
}
