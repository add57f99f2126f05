// Package metrics exposes control-plane counters on the Prometheus default
// registry; cmd/api serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_backups_total",
		Help: "Backups by trigger and terminal status.",
	}, []string{"trigger", "status"})

	BackupItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_backup_items_total",
		Help: "Backup items by terminal status.",
	}, []string{"status"})

	RetentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ballast_retention_deleted_total",
		Help: "Backups soft-deleted by retention cleanup.",
	})

	RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_rollbacks_total",
		Help: "Rollbacks by terminal status.",
	}, []string{"status"})

	IntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_integrity_checks_total",
		Help: "Integrity verification runs by overall status.",
	}, []string{"status"})

	SchedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_scheduler_runs_total",
		Help: "Scheduler-triggered runs by outcome.",
	}, []string{"outcome"})

	ActivityDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ballast_activity_entries_dropped_total",
		Help: "Activity log entries dropped because the buffer was full.",
	})
)
