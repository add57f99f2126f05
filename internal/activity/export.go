package activity

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
)

// Renderer turns a filtered entry set into a downloadable report. The CSV
// renderer lives here; richer formats (PDF) are plugged in from outside.
type Renderer interface {
	ContentType() string
	FileExtension() string
	Render(w io.Writer, entries []model.ActivityEntry, stats *database.ActivityStats) error
}

// Export renders all entries matching the filter (ignoring pagination)
// through the given renderer.
func (l *Log) Export(ctx context.Context, f database.ActivityFilter, r Renderer, w io.Writer, withStats bool) error {
	f.Limit = 0
	f.Offset = 0
	entries, _, err := l.db.QueryActivity(ctx, f)
	if err != nil {
		return model.StorageFailure("export activity log", err)
	}

	var stats *database.ActivityStats
	if withStats {
		if stats, err = l.db.GetActivityStats(ctx); err != nil {
			return model.StorageFailure("export activity stats", err)
		}
	}
	return r.Render(w, entries, stats)
}

// ExportFilename suggests a timestamped download name for the renderer.
func ExportFilename(r Renderer) string {
	return fmt.Sprintf("activity-log-%s.%s", time.Now().Format("20060102-150405"), r.FileExtension())
}

// CSVRenderer writes one row per entry with a fixed header.
type CSVRenderer struct{}

func (CSVRenderer) ContentType() string   { return "text/csv" }
func (CSVRenderer) FileExtension() string { return "csv" }

func (CSVRenderer) Render(w io.Writer, entries []model.ActivityEntry, stats *database.ActivityStats) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "timestamp", "type", "status", "backup_id", "backup_name", "actor_id", "actor_name", "details", "origin"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format(time.RFC3339),
			string(e.Type),
			string(e.Status),
			e.BackupID,
			e.BackupName,
			e.ActorID,
			e.ActorName,
			e.Details,
			e.Origin,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	if stats != nil {
		if err := cw.Write([]string{}); err != nil {
			return fmt.Errorf("write csv separator: %w", err)
		}
		summary := []string{
			"total", strconv.Itoa(stats.TotalActivities),
			"today", strconv.Itoa(stats.TodayActivities),
			"success", strconv.Itoa(stats.SuccessCount),
			"failed", strconv.Itoa(stats.FailedCount),
			"warning", strconv.Itoa(stats.WarningCount),
		}
		if err := cw.Write(summary); err != nil {
			return fmt.Errorf("write csv summary: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
