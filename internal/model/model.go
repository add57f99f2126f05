package model

import (
	"time"
)

type BackupType string

const (
	BackupFull        BackupType = "full"
	BackupDatabase    BackupType = "database"
	BackupFiles       BackupType = "files"
	BackupIncremental BackupType = "incremental"
	BackupPreUpdate   BackupType = "pre_update"
)

type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
	TriggerPreUpdate TriggerType = "pre_update"
	TriggerScheduled TriggerType = "scheduled"
)

type BackupStatus string

const (
	BackupPending    BackupStatus = "pending"
	BackupInProgress BackupStatus = "in_progress"
	BackupCompleted  BackupStatus = "completed"
	BackupFailed     BackupStatus = "failed"
	BackupDeleted    BackupStatus = "deleted"
)

// Backup is a point-in-time snapshot record of selected tables, files or
// config blobs of the application.
type Backup struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        BackupType        `json:"type"`
	Trigger     TriggerType       `json:"trigger"`
	Status      BackupStatus      `json:"status"`
	SizeBytes   int64             `json:"sizeBytes"`
	FileCount   int               `json:"fileCount"`
	TableCount  int               `json:"tableCount"`
	StorageKey  string            `json:"storageKey,omitempty"`
	Checksum    string            `json:"checksum,omitempty"`
	CreatedBy   string            `json:"createdBy"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type ItemType string

const (
	ItemTable  ItemType = "table"
	ItemFile   ItemType = "file"
	ItemConfig ItemType = "config"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// BackupItem is one logical unit inside a Backup, tracked independently so
// a single bad table does not poison the whole snapshot.
type BackupItem struct {
	ID          string     `json:"id"`
	BackupID    string     `json:"backupId"`
	Type        ItemType   `json:"type"`
	Name        string     `json:"name"`
	SizeBytes   int64      `json:"sizeBytes"`
	RecordCount *int       `json:"recordCount,omitempty"`
	StorageKey  string     `json:"storageKey"`
	Checksum    string     `json:"checksum,omitempty"`
	Status      ItemStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

type RollbackType string

const (
	RollbackFull     RollbackType = "full"
	RollbackDatabase RollbackType = "database"
	RollbackFiles    RollbackType = "files"
	RollbackPartial  RollbackType = "partial"
)

type RollbackStatus string

const (
	RollbackPending    RollbackStatus = "pending"
	RollbackInProgress RollbackStatus = "in_progress"
	RollbackCompleted  RollbackStatus = "completed"
	RollbackFailed     RollbackStatus = "failed"
	RollbackCancelled  RollbackStatus = "cancelled"
)

// Rollback is one restore operation against a completed Backup.
type Rollback struct {
	ID            string         `json:"id"`
	BackupID      string         `json:"backupId"`
	Type          RollbackType   `json:"type"`
	Status        RollbackStatus `json:"status"`
	TableNames    []string       `json:"tableNames,omitempty"`
	ItemsRestored int            `json:"itemsRestored"`
	ItemsFailed   int            `json:"itemsFailed"`
	InitiatedBy   string         `json:"initiatedBy"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Error         string         `json:"error,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// RetentionPolicy is the singleton retention configuration, persisted as
// key/value settings rows.
type RetentionPolicy struct {
	Enabled        bool       `json:"enabled"`
	RetentionDays  int        `json:"retentionDays"`
	ProtectLabeled bool       `json:"protectLabeled"`
	ProtectManual  bool       `json:"protectManual"`
	LastCleanup    *time.Time `json:"lastCleanup,omitempty"`
	DeletedCount   int64      `json:"deletedCount"`
}

// DefaultRetentionPolicy returns the policy used before an operator has
// saved one: enabled, 30 days, labeled and manual backups protected.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Enabled:        true,
		RetentionDays:  30,
		ProtectLabeled: true,
		ProtectManual:  true,
	}
}

// BackupLabel is a user-defined tag attached to backups, also consulted by
// the retention engine for protection.
type BackupLabel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ActivityType string

const (
	ActivityBackupCreated    ActivityType = "backup_created"
	ActivityBackupDeleted    ActivityType = "backup_deleted"
	ActivityBackupRestored   ActivityType = "backup_restored"
	ActivityIntegrityCheck   ActivityType = "integrity_check"
	ActivityRetentionCleanup ActivityType = "retention_cleanup"
	ActivityBackupDownloaded ActivityType = "backup_downloaded"
	ActivityLabelAssigned    ActivityType = "label_assigned"
	ActivityLabelRemoved     ActivityType = "label_removed"
	ActivityNotesUpdated     ActivityType = "notes_updated"
	ActivityScheduleChanged  ActivityType = "schedule_changed"
)

type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityFailed  ActivityStatus = "failed"
	ActivityWarning ActivityStatus = "warning"
)

// ActivityEntry is one append-only audit record. BackupName and ActorName
// are denormalized on purpose: the entry must stay meaningful after the
// referenced backup or account is gone.
type ActivityEntry struct {
	ID         int64          `json:"id"`
	Type       ActivityType   `json:"type"`
	BackupID   string         `json:"backupId,omitempty"`
	BackupName string         `json:"backupName,omitempty"`
	ActorID    string         `json:"actorId"`
	ActorName  string         `json:"actorName"`
	Details    string         `json:"details,omitempty"`
	Status     ActivityStatus `json:"status"`
	Origin     string         `json:"origin,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ScheduleState is the scheduler configuration plus its run bookkeeping,
// persisted as key/value settings rows.
type ScheduleState struct {
	Enabled    bool       `json:"enabled"`
	Cron       string     `json:"cron"`
	BackupType BackupType `json:"backupType"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
}

// DefaultScheduleState returns the out-of-the-box schedule: a weekly full
// backup on Sunday at 02:00.
func DefaultScheduleState() ScheduleState {
	return ScheduleState{
		Enabled:    true,
		Cron:       "0 2 * * 0",
		BackupType: BackupFull,
	}
}

// Actor identifies the authenticated caller of a mutating operation. The
// control plane never authenticates; it only records who acted.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// System is the actor recorded for scheduler-triggered operations.
var System = Actor{ID: "system", Name: "System"}
