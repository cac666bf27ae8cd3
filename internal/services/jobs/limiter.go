package jobs

import (
	"context"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of audits running at once and spills overflow into
// the persistent queue.
type Limiter struct {
	logger  arbor.ILogger
	sem     *semaphore.Weighted
	queue   *sqlite.QueueStorage
	max     int64
	active  atomic.Int64
	started atomic.Int64
}

// LimiterStats is a snapshot of execution slots and queue depth.
type LimiterStats struct {
	Active        int               `json:"active_audits"`
	MaxConcurrent int               `json:"max_concurrent"`
	TotalStarted  int64             `json:"total_started"`
	QueueSize     int               `json:"queue_size"`
	QueueMaxSize  int               `json:"queue_max_size"`
	Queue         sqlite.QueueStats `json:"queue"`
}

// NewLimiter creates a limiter with maxConcurrent execution slots.
func NewLimiter(logger arbor.ILogger, queue *sqlite.QueueStorage, maxConcurrent int) *Limiter {
	return &Limiter{
		logger: logger,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		queue:  queue,
		max:    int64(maxConcurrent),
	}
}

// TryAcquire claims an execution slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	l.started.Add(1)
	return true
}

// Acquire blocks until a slot is free or the context ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.active.Add(1)
	l.started.Add(1)
	return nil
}

// Release frees an execution slot.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// EnqueueJob persists an overflow job. Returns its 1-based queue position,
// or 0 when the queue is full.
func (l *Limiter) EnqueueJob(jobID, url string, options models.AuditOptions) (int, error) {
	position, err := l.queue.Enqueue(jobID, url, options)
	if err != nil {
		return 0, err
	}
	if position == 0 {
		l.logger.Warn().Str("job_id", jobID).Msg("Audit queue full, rejecting job")
	}
	return position, nil
}

// Active returns the number of audits currently holding a slot.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Stats merges slot usage with persistent queue counts.
func (l *Limiter) Stats() LimiterStats {
	stats := LimiterStats{
		Active:        int(l.active.Load()),
		MaxConcurrent: int(l.max),
		TotalStarted:  l.started.Load(),
		QueueMaxSize:  l.queue.MaxSize(),
	}
	if size, err := l.queue.Size(); err == nil {
		stats.QueueSize = size
	}
	if qs, err := l.queue.Stats(); err == nil {
		stats.Queue = qs
	}
	return stats
}
