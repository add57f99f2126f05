package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/auth"
	"github.com/polarfoxDev/ballast/internal/catalog"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/labels"
	"github.com/polarfoxDev/ballast/internal/model"
	"github.com/polarfoxDev/ballast/internal/retention"
	"github.com/polarfoxDev/ballast/internal/rollback"
	"github.com/polarfoxDev/ballast/internal/settings"
	"github.com/polarfoxDev/ballast/internal/storage"
	"github.com/polarfoxDev/ballast/internal/verify"
)

type handlerDeps struct {
	backups   *catalog.Service
	rollbacks *rollback.Engine
	verifier  *verify.Verifier
	retention *retention.Engine
	labels    *labels.Service
	settings  *settings.Service
	activity  *activity.Log
	store     storage.Store
	db        *database.DB
	logger    zerolog.Logger
}

var validate = validator.New()

// Health check endpoint
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	}
}

// GET /api/stats - Aggregate backup and activity statistics
func handleStats(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backups, err := deps.backups.List(r.Context(), database.BackupFilter{})
		if err != nil {
			respondError(w, err)
			return
		}
		byStatus := map[model.BackupStatus]int{}
		var totalSize int64
		for _, b := range backups {
			byStatus[b.Status]++
			if b.Status == model.BackupCompleted {
				totalSize += b.SizeBytes
			}
		}
		stats, err := deps.activity.Stats(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"backups": map[string]any{
				"total":          len(backups),
				"byStatus":       byStatus,
				"completedBytes": totalSize,
			},
			"activity": stats,
		})
	}
}

// GET /api/backups - List backups with optional filters
func handleListBackups(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := database.BackupFilter{
			Type:    model.BackupType(r.URL.Query().Get("type")),
			Trigger: model.TriggerType(r.URL.Query().Get("trigger")),
			Limit:   queryInt(r, "limit", 0),
			Offset:  queryInt(r, "offset", 0),
		}
		if statuses := r.URL.Query().Get("status"); statuses != "" {
			for _, s := range strings.Split(statuses, ",") {
				f.Statuses = append(f.Statuses, model.BackupStatus(s))
			}
		}
		backups, err := deps.backups.List(r.Context(), f)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, backups)
	}
}

type createBackupRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Type        string   `json:"type" validate:"required"`
	Tables      []string `json:"tables"`
}

// POST /api/backups - Register a backup and run it in the background
func handleCreateBackup(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBackupRequest
		if !decode(w, r, &req) {
			return
		}
		b, err := deps.backups.Create(r.Context(), catalog.CreateRequest{
			Name:           req.Name,
			Description:    req.Description,
			Type:           model.BackupType(req.Type),
			Trigger:        model.TriggerManual,
			TableSelection: req.Tables,
			Actor:          auth.ActorFromContext(r.Context()),
			Origin:         auth.Origin(r),
		})
		if err != nil {
			respondError(w, err)
			return
		}
		// The dump runs detached; poll GET /api/backups/{id} for progress.
		go func() {
			if _, err := deps.backups.Run(context.Background(), b.ID); err != nil {
				deps.logger.Error().Err(err).Str("backup", b.ID).Msg("background backup run failed")
			}
		}()
		respondJSON(w, http.StatusAccepted, b)
	}
}

// GET /api/backups/{id}
func handleGetBackup(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.backups.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, b)
	}
}

// DELETE /api/backups/{id} - Soft delete
func handleDeleteBackup(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.backups.SoftDelete(r.Context(), chi.URLParam(r, "id"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type updateNotesRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// PUT /api/backups/{id}/notes
func handleUpdateNotes(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateNotesRequest
		if !decode(w, r, &req) {
			return
		}
		err := deps.backups.UpdateNotes(r.Context(), chi.URLParam(r, "id"), req.Notes,
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/backups/{id}/items
func handleGetItems(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.backups.Items(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, items)
	}
}

// GET /api/backups/{id}/items/{itemID}/download - Raw item payload
func handleDownloadItem(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backupID := chi.URLParam(r, "id")
		items, err := deps.backups.Items(r.Context(), backupID)
		if err != nil {
			respondError(w, err)
			return
		}
		itemID := chi.URLParam(r, "itemID")
		var item *model.BackupItem
		for i := range items {
			if items[i].ID == itemID {
				item = &items[i]
				break
			}
		}
		if item == nil {
			respondError(w, model.NotFoundf("backup item %s", itemID))
			return
		}
		content, err := deps.store.Read(r.Context(), item.StorageKey)
		if err != nil {
			respondError(w, model.StorageFailure("read payload", err))
			return
		}
		if err := deps.backups.RecordDownload(r.Context(), backupID,
			auth.ActorFromContext(r.Context()), auth.Origin(r)); err != nil {
			respondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", path.Base(item.Name)))
		w.Write(content)
	}
}

// POST /api/backups/{id}/verify
func handleVerifyBackup(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.verifier.Verify(r.Context(), chi.URLParam(r, "id"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}

// GET /api/backups/{id}/labels
func handleBackupLabels(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := deps.labels.ForBackup(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, got)
	}
}

// PUT /api/backups/{id}/labels/{labelID}
func handleAssignLabel(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.labels.Assign(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "labelID"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DELETE /api/backups/{id}/labels/{labelID}
func handleRemoveLabel(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.labels.Remove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "labelID"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/rollbacks and GET /api/backups/{id}/rollbacks
func handleListRollbacks(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rollbacks, err := deps.rollbacks.List(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rollbacks)
	}
}

type startRollbackRequest struct {
	BackupID string   `json:"backupId" validate:"required"`
	Type     string   `json:"type" validate:"required"`
	Tables   []string `json:"tables"`
	Notes    string   `json:"notes" validate:"max=2000"`
	Deferred bool     `json:"deferred"`
}

// POST /api/rollbacks - Start a rollback. Deferred requests only register
// it; execute or cancel it afterwards.
func handleStartRollback(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRollbackRequest
		if !decode(w, r, &req) {
			return
		}
		sr := rollback.StartRequest{
			BackupID:   req.BackupID,
			Type:       model.RollbackType(req.Type),
			TableNames: req.Tables,
			Notes:      req.Notes,
			Actor:      auth.ActorFromContext(r.Context()),
			Origin:     auth.Origin(r),
		}
		if req.Deferred {
			rb, err := deps.rollbacks.Start(r.Context(), sr)
			if err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusAccepted, rb)
			return
		}
		rb, err := deps.rollbacks.Run(r.Context(), sr)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// GET /api/rollbacks/{id}
func handleGetRollback(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rb, err := deps.rollbacks.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// POST /api/rollbacks/{id}/execute
func handleExecuteRollback(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rb, err := deps.rollbacks.Execute(r.Context(), chi.URLParam(r, "id"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// POST /api/rollbacks/{id}/cancel
func handleCancelRollback(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rb, err := deps.rollbacks.Cancel(r.Context(), chi.URLParam(r, "id"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rb)
	}
}

// GET /api/labels
func handleListLabels(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := deps.labels.List(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, got)
	}
}

type createLabelRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	Color       string `json:"color" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

// POST /api/labels
func handleCreateLabel(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLabelRequest
		if !decode(w, r, &req) {
			return
		}
		l, err := deps.labels.Create(r.Context(), labels.CreateRequest{
			Name:        req.Name,
			Color:       req.Color,
			Description: req.Description,
			Actor:       auth.ActorFromContext(r.Context()),
			Origin:      auth.Origin(r),
		})
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, l)
	}
}

// DELETE /api/labels/{id}
func handleDeleteLabel(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.labels.Delete(r.Context(), chi.URLParam(r, "id"),
			auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/labels/{id}/backups - Backups carrying a label
func handleLabelBackups(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backups, err := deps.labels.WithLabel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, backups)
	}
}

// GET /api/retention
func handleGetRetention(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policy, err := deps.settings.GetRetention(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, policy)
	}
}

type updateRetentionRequest struct {
	Enabled        bool `json:"enabled"`
	RetentionDays  int  `json:"retentionDays" validate:"required,min=1,max=365"`
	ProtectLabeled bool `json:"protectLabeled"`
	ProtectManual  bool `json:"protectManual"`
}

// PUT /api/retention
func handleUpdateRetention(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateRetentionRequest
		if !decode(w, r, &req) {
			return
		}
		policy, err := deps.settings.UpdateRetention(r.Context(), settings.RetentionUpdate{
			Enabled:        req.Enabled,
			RetentionDays:  req.RetentionDays,
			ProtectLabeled: req.ProtectLabeled,
			ProtectManual:  req.ProtectManual,
		}, auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, policy)
	}
}

// GET /api/retention/preview - What a cleanup pass would delete
func handleRetentionPreview(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.retention.Preview(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, d)
	}
}

// POST /api/retention/run - Execute a cleanup pass now
func handleRetentionRun(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.retention.Apply(r.Context(), auth.ActorFromContext(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /api/schedule
func handleGetSchedule(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.settings.GetSchedule(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

type updateScheduleRequest struct {
	Enabled    bool   `json:"enabled"`
	Cron       string `json:"cron" validate:"required"`
	BackupType string `json:"backupType" validate:"required"`
}

// PUT /api/schedule
func handleUpdateSchedule(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateScheduleRequest
		if !decode(w, r, &req) {
			return
		}
		v, err := deps.settings.UpdateSchedule(r.Context(), settings.ScheduleUpdate{
			Enabled:    req.Enabled,
			Cron:       req.Cron,
			BackupType: model.BackupType(req.BackupType),
		}, auth.ActorFromContext(r.Context()), auth.Origin(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

// GET /api/activity - Paginated audit log
func handleListActivity(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.activity.Query(r.Context(), activityFilter(r))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /api/activity/stats
func handleActivityStats(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.activity.Stats(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

// GET /api/activity/export - CSV download of the audit log
func handleExportActivity(deps *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderer := activity.CSVRenderer{}
		withStats := r.URL.Query().Get("stats") == "true"

		w.Header().Set("Content-Type", renderer.ContentType())
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", activity.ExportFilename(renderer)))
		if err := deps.activity.Export(r.Context(), activityFilter(r), renderer, w, withStats); err != nil {
			respondError(w, err)
		}
	}
}

func activityFilter(r *http.Request) database.ActivityFilter {
	f := database.ActivityFilter{
		Type:   model.ActivityType(r.URL.Query().Get("type")),
		Status: model.ActivityStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = t
		}
	}
	if until := r.URL.Query().Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			f.Until = t
		}
	}
	return f
}

// decode unmarshals and validates a JSON request body, responding on error.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps the domain error kinds onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
