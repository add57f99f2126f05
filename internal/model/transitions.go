package model

// Legal status transitions are checked in one place per entity so an
// illegal flip is always the same error, not a scattered conditional.

var backupTransitions = map[BackupStatus][]BackupStatus{
	BackupPending:    {BackupInProgress},
	BackupInProgress: {BackupCompleted, BackupFailed},
	BackupCompleted:  {BackupDeleted},
	BackupFailed:     {BackupDeleted},
}

// ValidateBackupTransition returns ErrInvalidState unless from -> to is a
// legal backup status transition.
func ValidateBackupTransition(from, to BackupStatus) error {
	for _, next := range backupTransitions[from] {
		if next == to {
			return nil
		}
	}
	return InvalidStatef("backup status %s -> %s", from, to)
}

var rollbackTransitions = map[RollbackStatus][]RollbackStatus{
	RollbackPending:    {RollbackInProgress, RollbackCancelled},
	RollbackInProgress: {RollbackCompleted, RollbackFailed},
}

// ValidateRollbackTransition returns ErrInvalidState unless from -> to is a
// legal rollback status transition. Cancellation is only reachable from
// pending: once items are being restored the operation runs to a terminal
// completed/failed status.
func ValidateRollbackTransition(from, to RollbackStatus) error {
	for _, next := range rollbackTransitions[from] {
		if next == to {
			return nil
		}
	}
	return InvalidStatef("rollback status %s -> %s", from, to)
}

// TerminalBackupStatus reports whether a backup can no longer change state
// on its own (deleted is terminal too, but only reachable via soft delete).
func TerminalBackupStatus(s BackupStatus) bool {
	return s == BackupCompleted || s == BackupFailed || s == BackupDeleted
}

// ItemTypesForBackup maps a backup type to the item types it snapshots.
// Full and pre-update backups cover everything; incremental backups carry
// table items only, like database backups.
func ItemTypesForBackup(t BackupType) []ItemType {
	switch t {
	case BackupDatabase, BackupIncremental:
		return []ItemType{ItemTable}
	case BackupFiles:
		return []ItemType{ItemFile}
	default:
		return []ItemType{ItemTable, ItemFile, ItemConfig}
	}
}
