// Package verify re-reads a completed backup's payloads and checks them
// against the recorded checksums, record counts and the live source.
package verify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/checksum"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/source"
	"github.com/polarfoxDev/ballast/internal/storage"
)

type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckWarning CheckStatus = "warning"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// Check names.
const (
	CheckChecksum     = "checksum"
	CheckFormat       = "format"
	CheckCount        = "record_count"
	CheckCompleteness = "completeness"
	CheckStructure    = "structure"
)

type CheckDetail struct {
	Name     string      `json:"name"`
	Item     string      `json:"item,omitempty"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message,omitempty"`
	Expected string      `json:"expected,omitempty"`
	Actual   string      `json:"actual,omitempty"`
}

// Report is the outcome of verifying one backup. Status is the worst
// individual check: failed beats warning beats passed.
type Report struct {
	BackupID        string        `json:"backupId"`
	BackupName      string        `json:"backupName"`
	Status          CheckStatus   `json:"status"`
	Checks          []CheckDetail `json:"checks"`
	ChecksPerformed int           `json:"checksPerformed"`
	ChecksPassed    int           `json:"checksPassed"`
	ChecksFailed    int           `json:"checksFailed"`
	ChecksWarning   int           `json:"checksWarning"`
	Summary         string        `json:"summary"`
	VerifiedAt      time.Time     `json:"verifiedAt"`
}

type Verifier struct {
	db     *database.DB
	store  storage.Store
	src    source.Source
	log    *activity.Log
	logger zerolog.Logger
}

func NewVerifier(db *database.DB, store storage.Store, src source.Source, log *activity.Log, logger zerolog.Logger) *Verifier {
	return &Verifier{db: db, store: store, src: src, log: log, logger: logger}
}

// Verify runs every integrity check against a completed backup.
func (v *Verifier) Verify(ctx context.Context, backupID string, actor model.Actor, origin string) (*Report, error) {
	b, err := v.db.GetBackup(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup", err)
	}
	if b == nil {
		return nil, model.NotFoundf("backup %s", backupID)
	}
	if b.Status != model.BackupCompleted {
		return nil, model.InvalidStatef("backup %s is %s, only completed backups can be verified", backupID, b.Status)
	}
	items, err := v.db.GetItems(ctx, backupID)
	if err != nil {
		return nil, model.StorageFailure("load backup items", err)
	}

	// Initialize as empty slice so JSON encodes as [] instead of null.
	r := &Report{BackupID: b.ID, BackupName: b.Name, Checks: []CheckDetail{}, VerifiedAt: time.Now()}

	sums := make(map[string]string)
	for _, it := range items {
		switch it.Status {
		case model.ItemCompleted:
			v.verifyItem(ctx, r, it, sums)
		case model.ItemFailed, model.ItemSkipped:
			r.add(CheckDetail{
				Name: CheckStructure, Item: it.Name, Status: CheckWarning,
				Message: fmt.Sprintf("item was %s during the backup run", it.Status),
			})
		default:
			r.add(CheckDetail{
				Name: CheckStructure, Item: it.Name, Status: CheckFailed,
				Message: fmt.Sprintf("item is still %s on a completed backup", it.Status),
			})
		}
	}

	if agg := checksum.Aggregate(sums); agg != b.Checksum {
		r.add(CheckDetail{
			Name: CheckChecksum, Status: CheckFailed,
			Message:  "aggregate checksum does not match the recorded value",
			Expected: b.Checksum, Actual: agg,
		})
	} else {
		r.add(CheckDetail{Name: CheckChecksum, Status: CheckPassed, Message: "aggregate checksum matches"})
	}

	v.verifyCompleteness(ctx, r, b, items)

	r.summarize()
	metrics.IntegrityChecksTotal.WithLabelValues(string(r.Status)).Inc()

	v.log.Record(model.ActivityEntry{
		Type:       model.ActivityIntegrityCheck,
		BackupID:   b.ID,
		BackupName: b.Name,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Status:     activityStatus(r.Status),
		Details:    r.Summary,
		Origin:     origin,
	})
	return r, nil
}

func (v *Verifier) verifyItem(ctx context.Context, r *Report, it model.BackupItem, sums map[string]string) {
	content, err := v.store.Read(ctx, it.StorageKey)
	if err != nil {
		r.add(CheckDetail{
			Name: CheckStructure, Item: it.Name, Status: CheckFailed,
			Message: fmt.Sprintf("payload unreadable: %v", err),
		})
		return
	}

	digest := checksum.Digest(content)
	sums[it.Name] = digest
	if digest != it.Checksum {
		r.add(CheckDetail{
			Name: CheckChecksum, Item: it.Name, Status: CheckFailed,
			Message:  "payload checksum does not match the recorded value",
			Expected: it.Checksum, Actual: digest,
		})
	} else {
		r.add(CheckDetail{Name: CheckChecksum, Item: it.Name, Status: CheckPassed})
	}

	if it.Type != model.ItemTable {
		return
	}

	count, err := checksum.CountRecords(content)
	if err != nil {
		r.add(CheckDetail{
			Name: CheckFormat, Item: it.Name, Status: CheckFailed,
			Message: fmt.Sprintf("payload is not valid record data: %v", err),
		})
		return
	}
	r.add(CheckDetail{Name: CheckFormat, Item: it.Name, Status: CheckPassed})

	if it.RecordCount == nil {
		r.add(CheckDetail{
			Name: CheckCount, Item: it.Name, Status: CheckWarning,
			Message: "no record count was captured during the backup",
		})
	} else if count != *it.RecordCount {
		r.add(CheckDetail{
			Name: CheckCount, Item: it.Name, Status: CheckWarning,
			Message:  fmt.Sprintf("payload holds %d records, %d were recorded", count, *it.RecordCount),
			Expected: strconv.Itoa(*it.RecordCount), Actual: strconv.Itoa(count),
		})
	} else {
		r.add(CheckDetail{Name: CheckCount, Item: it.Name, Status: CheckPassed})
	}
}

// verifyCompleteness compares the backed-up tables against what the source
// exposes right now. Backups taken with an explicit table selection skip
// the check, missing tables are expected there.
func (v *Verifier) verifyCompleteness(ctx context.Context, r *Report, b *model.Backup, items []model.BackupItem) {
	if _, selected := b.Metadata["tableSelection"]; selected {
		r.add(CheckDetail{
			Name: CheckCompleteness, Status: CheckSkipped,
			Message: "backup covers an explicit table selection",
		})
		return
	}
	units, err := v.src.Units(ctx, model.ItemTypesForBackup(b.Type))
	if err != nil {
		r.add(CheckDetail{
			Name: CheckCompleteness, Status: CheckWarning,
			Message: fmt.Sprintf("source unavailable: %v", err),
		})
		return
	}

	have := make(map[string]bool, len(items))
	for _, it := range items {
		have[it.Name] = true
	}
	missing := 0
	for _, u := range units {
		if u.Type == model.ItemTable && !have[u.Name] {
			r.add(CheckDetail{
				Name: CheckCompleteness, Item: u.Name, Status: CheckWarning,
				Message: "table exists in the source but not in the backup",
			})
			missing++
		}
	}
	if missing == 0 {
		r.add(CheckDetail{Name: CheckCompleteness, Status: CheckPassed})
	}
}

func (r *Report) add(c CheckDetail) { r.Checks = append(r.Checks, c) }

// summarize settles the overall status and fills the aggregate counters
// and the one-line summary.
func (r *Report) summarize() {
	r.Status = settle(r.Checks)
	r.ChecksPerformed = len(r.Checks)
	for _, c := range r.Checks {
		switch c.Status {
		case CheckPassed:
			r.ChecksPassed++
		case CheckFailed:
			r.ChecksFailed++
		case CheckWarning:
			r.ChecksWarning++
		}
	}
	r.Summary = fmt.Sprintf("%s: %d checks, %d passed, %d warnings, %d failed",
		r.Status, r.ChecksPerformed, r.ChecksPassed, r.ChecksWarning, r.ChecksFailed)
}

func settle(checks []CheckDetail) CheckStatus {
	status := CheckPassed
	for _, c := range checks {
		switch c.Status {
		case CheckFailed:
			return CheckFailed
		case CheckWarning:
			status = CheckWarning
		}
	}
	return status
}

func activityStatus(s CheckStatus) model.ActivityStatus {
	switch s {
	case CheckFailed:
		return model.ActivityFailed
	case CheckWarning:
		return model.ActivityWarning
	default:
		return model.ActivitySuccess
	}
}
