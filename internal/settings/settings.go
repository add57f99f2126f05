// Package settings exposes the persisted schedule and retention
// configuration for reading and updating.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/schedule"
)

type Service struct {
	db     *database.DB
	log    *activity.Log
	logger zerolog.Logger
}

func NewService(db *database.DB, log *activity.Log, logger zerolog.Logger) *Service {
	return &Service{db: db, log: log, logger: logger}
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

// ScheduleView is the schedule state plus its rendered description.
type ScheduleView struct {
	model.ScheduleState
	Description string `json:"description"`
}

func (s *Service) GetSchedule(ctx context.Context) (*ScheduleView, error) {
	state, err := s.db.LoadScheduleState(ctx)
	if err != nil {
		return nil, model.StorageFailure("load schedule", err)
	}
	return describeSchedule(state), nil
}

type ScheduleUpdate struct {
	Enabled    bool
	Cron       string
	BackupType model.BackupType
}

// UpdateSchedule replaces the backup schedule. The cron expression is
// validated and the next activation recomputed before anything is saved.
func (s *Service) UpdateSchedule(ctx context.Context, upd ScheduleUpdate, actor model.Actor, origin string) (*ScheduleView, error) {
	sched, err := schedule.Parse(upd.Cron)
	if err != nil {
		return nil, err
	}
	switch upd.BackupType {
	case model.BackupFull, model.BackupDatabase, model.BackupFiles, model.BackupIncremental:
	default:
		return nil, model.InvalidInputf("backup type %q cannot be scheduled", upd.BackupType)
	}

	state, err := s.db.LoadScheduleState(ctx)
	if err != nil {
		return nil, model.StorageFailure("load schedule", err)
	}
	state.Enabled = upd.Enabled
	state.Cron = upd.Cron
	state.BackupType = upd.BackupType
	if upd.Enabled {
		next := sched.Next(nowFunc())
		state.NextRun = &next
	} else {
		state.NextRun = nil
	}
	if err := s.db.SaveScheduleState(ctx, state); err != nil {
		return nil, model.StorageFailure("save schedule", err)
	}

	s.log.Record(model.ActivityEntry{
		Type:      model.ActivityScheduleChanged,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Details:   fmt.Sprintf("backup schedule: %s (%s, enabled=%t)", sched.Describe(), upd.BackupType, upd.Enabled),
		Origin:    origin,
	})
	return describeSchedule(state), nil
}

func (s *Service) GetRetention(ctx context.Context) (model.RetentionPolicy, error) {
	policy, err := s.db.LoadRetentionPolicy(ctx)
	if err != nil {
		return policy, model.StorageFailure("load retention policy", err)
	}
	return policy, nil
}

type RetentionUpdate struct {
	Enabled        bool
	RetentionDays  int
	ProtectLabeled bool
	ProtectManual  bool
}

// Retention windows are bounded to one year.
const maxRetentionDays = 365

// UpdateRetention replaces the retention policy, keeping the cleanup
// bookkeeping counters.
func (s *Service) UpdateRetention(ctx context.Context, upd RetentionUpdate, actor model.Actor, origin string) (model.RetentionPolicy, error) {
	if upd.RetentionDays < 1 || upd.RetentionDays > maxRetentionDays {
		return model.RetentionPolicy{}, model.InvalidInputf("retention days must be between 1 and %d, got %d", maxRetentionDays, upd.RetentionDays)
	}

	policy, err := s.db.LoadRetentionPolicy(ctx)
	if err != nil {
		return policy, model.StorageFailure("load retention policy", err)
	}
	policy.Enabled = upd.Enabled
	policy.RetentionDays = upd.RetentionDays
	policy.ProtectLabeled = upd.ProtectLabeled
	policy.ProtectManual = upd.ProtectManual
	if err := s.db.SaveRetentionPolicy(ctx, policy); err != nil {
		return policy, model.StorageFailure("save retention policy", err)
	}

	s.log.Record(model.ActivityEntry{
		Type:      model.ActivityScheduleChanged,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Details: fmt.Sprintf("retention policy: %d days (enabled=%t, protectLabeled=%t, protectManual=%t)",
			upd.RetentionDays, upd.Enabled, upd.ProtectLabeled, upd.ProtectManual),
		Origin: origin,
	})
	return policy, nil
}

func describeSchedule(state model.ScheduleState) *ScheduleView {
	v := &ScheduleView{ScheduleState: state}
	if sched, err := schedule.Parse(state.Cron); err == nil {
		v.Description = sched.Describe()
	}
	return v
}
