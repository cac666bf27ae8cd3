package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/audit"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// Submission errors mapped to HTTP statuses by the handlers.
var (
	ErrValidation  = errors.New("invalid audit request")
	ErrRateLimited = errors.New("too many active audits for client")
	ErrQueueFull   = errors.New("audit queue is full")
)

// Runner executes one audit pipeline. Satisfied by audit.Orchestrator.
type Runner interface {
	Run(ctx context.Context, url string, options models.AuditOptions, callbacks audit.StageCallbacks) *models.AuditResponse
}

// Dispatcher accepts audit submissions, runs them within the concurrency
// limit, spills overflow to the persistent queue, and drains the queue as
// slots free up.
type Dispatcher struct {
	logger         arbor.ILogger
	registry       *Registry
	limiter        *Limiter
	queue          *sqlite.QueueStorage
	runner         Runner
	browsers       *pool.BrowserPool
	locks          *audit.URLLockManager
	cache          *sqlite.CacheStorage
	defaultTimeout time.Duration
	staleAge       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	wg     sync.WaitGroup
}

// NewDispatcher wires the job pipeline around an audit runner.
func NewDispatcher(
	logger arbor.ILogger,
	config *common.Config,
	registry *Registry,
	limiter *Limiter,
	queue *sqlite.QueueStorage,
	runner Runner,
	browsers *pool.BrowserPool,
	locks *audit.URLLockManager,
	cache *sqlite.CacheStorage,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:         logger,
		registry:       registry,
		limiter:        limiter,
		queue:          queue,
		runner:         runner,
		browsers:       browsers,
		locks:          locks,
		cache:          cache,
		defaultTimeout: config.DefaultTimeoutDuration(),
		staleAge:       time.Duration(config.Queue.TimeoutSeconds) * time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start recovers interrupted queue entries, validates the browser pool, and
// schedules background maintenance.
func (d *Dispatcher) Start() error {
	if _, err := d.queue.RequeueProcessing(); err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	}
	if err := d.browsers.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser pool: %w", err)
	}

	d.cron = cron.New()
	d.cron.AddFunc("@every 5m", func() {
		d.browsers.CleanupIdle()
		d.locks.Cleanup()
	})
	d.cron.AddFunc("@every 10m", func() {
		d.registry.CleanupExpired()
	})
	d.cron.AddFunc("@every 1h", func() {
		d.cache.CleanupExpired()
		if _, err := d.queue.CleanupStale(d.staleAge); err != nil {
			d.logger.Warn().Err(err).Msg("Queue cleanup failed")
		}
	})
	d.cron.Start()

	// Resume any work that survived a restart
	d.drainNext()
	return nil
}

// Stop halts maintenance, stops accepting queued work, waits for running
// audits, and shuts down the browser pool.
func (d *Dispatcher) Stop() {
	d.cancel()
	if d.cron != nil {
		d.cron.Stop()
	}
	d.wg.Wait()
	d.browsers.Shutdown()
}

// Submit validates and registers an audit job, running it immediately when a
// slot is free, otherwise queueing it.
func (d *Dispatcher) Submit(rawURL string, options models.AuditOptions, clientIP string) (*models.JobCreateResponse, error) {
	d.registry.CleanupExpired()

	normalized, err := common.NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	jobID := d.registry.Create(normalized, clientIP)
	if jobID == "" {
		return nil, ErrRateLimited
	}

	if options.TimeoutSeconds <= 0 {
		options.TimeoutSeconds = int(d.defaultTimeout.Seconds())
	}

	if d.limiter.TryAcquire() {
		d.wg.Add(1)
		go d.worker(jobID, normalized, options, false)
		return &models.JobCreateResponse{
			JobID:   jobID,
			Status:  models.JobStatusPending,
			Message: "Audit started",
		}, nil
	}

	position, err := d.limiter.EnqueueJob(jobID, normalized, options)
	if err != nil {
		d.registry.Remove(jobID)
		return nil, fmt.Errorf("failed to queue audit: %w", err)
	}
	if position == 0 {
		d.registry.Remove(jobID)
		return nil, ErrQueueFull
	}

	d.registry.UpdateStatusAndPosition(jobID, models.JobStatusQueued, position)
	return &models.JobCreateResponse{
		JobID:   jobID,
		Status:  models.JobStatusQueued,
		Message: fmt.Sprintf("Audit queued at position %d", position),
	}, nil
}

// Cancel cancels a queued job. Running jobs cannot be cancelled.
func (d *Dispatcher) Cancel(jobID string) (bool, error) {
	cancelled, err := d.queue.Cancel(jobID)
	if err != nil {
		return false, err
	}
	if cancelled {
		d.registry.Fail(jobID, "Cancelled by user")
	}
	return cancelled, nil
}

// QueuePosition returns the live queue position for a queued job.
func (d *Dispatcher) QueuePosition(jobID string) (int, error) {
	return d.queue.Position(jobID)
}

// worker runs one audit holding a limiter slot, then drains the queue.
func (d *Dispatcher) worker(jobID, url string, options models.AuditOptions, fromQueue bool) {
	defer d.wg.Done()
	defer func() {
		if fromQueue {
			d.queue.Remove(jobID)
		}
		d.limiter.Release()
		d.drainNext()
	}()

	callbacks := audit.StageCallbacks{
		OnStageStart: func(stage models.AuditStage) {
			d.registry.UpdateStage(jobID, stage)
		},
		OnStageComplete: func(stage models.AuditStage) {
			d.registry.CompleteStage(jobID, stage)
		},
	}

	d.logger.Info().Str("job_id", jobID).Str("url", url).Msg("Audit job started")
	result := d.runner.Run(d.ctx, url, options, callbacks)

	if result.Status == models.AuditStatusFailed {
		d.registry.Fail(jobID, result.Error)
		return
	}
	d.registry.Complete(jobID, result)
}

// drainNext starts the next queued job if a slot is free. Entries whose job
// vanished from the registry (expired or cancelled) are skipped.
func (d *Dispatcher) drainNext() {
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		if !d.limiter.TryAcquire() {
			return
		}

		next, err := d.queue.Dequeue()
		if err != nil {
			d.logger.Warn().Err(err).Msg("Queue dequeue failed")
			d.limiter.Release()
			return
		}
		if next == nil {
			d.limiter.Release()
			return
		}

		if d.registry.Get(next.JobID) == nil {
			d.queue.Remove(next.JobID)
			d.limiter.Release()
			continue
		}

		d.registry.UpdateStatusAndPosition(next.JobID, models.JobStatusPending, 0)
		d.wg.Add(1)
		go d.worker(next.JobID, next.URL, next.Options, true)
		return
	}
}
