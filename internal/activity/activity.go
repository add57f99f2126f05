// Package activity is the append-only audit trail of the control plane.
// Writes are fire-and-forget: a full buffer or a failed insert never blocks
// or fails the operation being recorded.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/metrics"
	"github.com/polarfoxDev/ballast/internal/model"
)

const bufferSize = 1024

// Log records and serves activity entries. One drain goroutine owns all
// database writes.
type Log struct {
	db     *database.DB
	logger zerolog.Logger
	ch     chan model.ActivityEntry
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewLog(db *database.DB, logger zerolog.Logger) *Log {
	l := &Log{
		db:     db,
		logger: logger,
		ch:     make(chan model.ActivityEntry, bufferSize),
	}
	go l.drain()
	return l
}

func (l *Log) drain() {
	for e := range l.ch {
		// context.Background since the triggering request may be long gone
		if err := l.db.InsertActivity(context.Background(), &e); err != nil {
			l.logger.Error().Err(err).Str("type", string(e.Type)).Msg("failed to write activity entry")
		}
		l.wg.Done()
	}
}

// Record enqueues an entry. Never blocks; when the buffer is full the entry
// is dropped with a diagnostic warning.
func (l *Log) Record(e model.ActivityEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = model.ActivitySuccess
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn().Str("type", string(e.Type)).Msg("activity log closed, dropping entry")
		return
	}

	l.wg.Add(1)
	select {
	case l.ch <- e:
	default:
		l.wg.Done()
		metrics.ActivityDroppedTotal.Inc()
		l.logger.Warn().Str("type", string(e.Type)).Msg("activity buffer full, dropping entry")
	}
}

// Flush blocks until every entry enqueued so far has been written.
func (l *Log) Flush() {
	l.wg.Wait()
}

// Close flushes remaining entries and stops the drain goroutine.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	close(l.ch)
}

// QueryResult is one page of the activity log.
type QueryResult struct {
	Entries []model.ActivityEntry `json:"entries"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"hasMore"`
}

func (l *Log) Query(ctx context.Context, f database.ActivityFilter) (*QueryResult, error) {
	entries, total, err := l.db.QueryActivity(ctx, f)
	if err != nil {
		return nil, model.StorageFailure("query activity log", err)
	}
	hasMore := f.Limit > 0 && f.Offset+len(entries) < total
	return &QueryResult{Entries: entries, Total: total, HasMore: hasMore}, nil
}

func (l *Log) Stats(ctx context.Context) (*database.ActivityStats, error) {
	stats, err := l.db.GetActivityStats(ctx)
	if err != nil {
		return nil, model.StorageFailure("aggregate activity stats", err)
	}
	return stats, nil
}

// Prune removes entries older than the given age and returns the count.
func (l *Log) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := l.db.PruneActivity(ctx, olderThan)
	if err != nil {
		return 0, model.StorageFailure("prune activity log", err)
	}
	return n, nil
}
