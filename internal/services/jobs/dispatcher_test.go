package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/audit"
	"github.com/ternarybob/beacon/internal/services/events"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

type fakeRunner struct {
	mu     sync.Mutex
	urls   []string
	block  chan struct{}
	result *models.AuditResponse
}

func (f *fakeRunner) Run(ctx context.Context, url string, options models.AuditOptions, callbacks audit.StageCallbacks) *models.AuditResponse {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	callbacks.OnStageStart(models.StageLighthouseMobile)
	callbacks.OnStageComplete(models.StageLighthouseMobile)

	if f.result != nil {
		return f.result
	}
	return &models.AuditResponse{Status: models.AuditStatusSuccess, URL: url}
}

func (f *fakeRunner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *Registry
	queue      *sqlite.QueueStorage
	runner     *fakeRunner
}

func newDispatcherFixture(t *testing.T, maxConcurrent, queueSize int, runner *fakeRunner) *dispatcherFixture {
	t.Helper()
	logger := arbor.NewLogger()

	db := sqlite.NewDB(logger, filepath.Join(t.TempDir(), "audit_cache.db"))
	t.Cleanup(func() { db.Close() })

	broadcaster := events.NewBroadcaster(logger)
	t.Cleanup(broadcaster.Close)

	queue := sqlite.NewQueueStorage(logger, db, queueSize)
	cache := sqlite.NewCacheStorage(logger, db, 3600)
	registry := NewRegistry(logger, broadcaster, 5)
	limiter := NewLimiter(logger, queue, maxConcurrent)
	browsers := pool.NewBrowserPool(logger, pool.Config{PoolSize: 1, LaunchTimeout: 5 * time.Second, IdleTimeout: time.Minute})
	locks := audit.NewURLLockManager()

	dispatcher := NewDispatcher(
		logger, common.NewDefaultConfig(),
		registry, limiter, queue, runner, browsers, locks, cache,
	)
	t.Cleanup(dispatcher.Stop)
	return &dispatcherFixture{
		dispatcher: dispatcher,
		registry:   registry,
		queue:      queue,
		runner:     runner,
	}
}

func waitForStatus(t *testing.T, r *Registry, jobID string, status models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job := r.Get(jobID); job != nil && job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job := r.Get(jobID)
	t.Fatalf("job %s never reached status %s (current: %+v)", jobID, status, job)
	return nil
}

func TestDispatcher_SubmitInvalidURL(t *testing.T) {
	f := newDispatcherFixture(t, 1, 10, &fakeRunner{})

	_, err := f.dispatcher.Submit("not a url", models.AuditOptions{}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDispatcher_SubmitRunsImmediately(t *testing.T) {
	runner := &fakeRunner{}
	f := newDispatcherFixture(t, 1, 10, runner)

	resp, err := f.dispatcher.Submit("example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, resp.Status)

	job := waitForStatus(t, f.registry, resp.JobID, models.JobStatusCompleted)
	require.NotNil(t, job.Result)
	assert.Equal(t, models.AuditStatusSuccess, job.Result.Status)
	assert.Contains(t, job.CompletedStages, models.StageLighthouseMobile)

	// URL was normalized before dispatch
	assert.Equal(t, []string{"https://example.com"}, runner.calls())
}

func TestDispatcher_OverflowQueuesAndDrains(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	f := newDispatcherFixture(t, 1, 10, runner)

	first, err := f.dispatcher.Submit("https://a.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)

	second, err := f.dispatcher.Submit("https://b.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, second.Status)
	assert.Contains(t, second.Message, "position 1")

	queued := f.registry.Get(second.JobID)
	assert.Equal(t, 1, queued.QueuePosition)

	close(runner.block)

	waitForStatus(t, f.registry, first.JobID, models.JobStatusCompleted)
	waitForStatus(t, f.registry, second.JobID, models.JobStatusCompleted)

	// Drained entry is gone from the persistent queue
	size, err := f.queue.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestDispatcher_QueueFull(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	defer close(runner.block)
	f := newDispatcherFixture(t, 1, 1, runner)

	_, err := f.dispatcher.Submit("https://a.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)
	_, err = f.dispatcher.Submit("https://b.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.dispatcher.Submit("https://c.example.com", models.AuditOptions{}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrQueueFull)

	// Rejected job does not linger in the registry or count against the quota
	assert.Equal(t, 2, f.registry.Count())
}

func TestDispatcher_RateLimited(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	defer close(runner.block)
	f := newDispatcherFixture(t, 10, 10, runner)

	for i := 0; i < 5; i++ {
		_, err := f.dispatcher.Submit("https://a.example.com", models.AuditOptions{}, "10.0.0.1")
		require.NoError(t, err)
	}

	_, err := f.dispatcher.Submit("https://b.example.com", models.AuditOptions{}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different client still gets through
	_, err = f.dispatcher.Submit("https://b.example.com", models.AuditOptions{}, "10.0.0.2")
	assert.NoError(t, err)
}

func TestDispatcher_FailedAuditMarksJobFailed(t *testing.T) {
	runner := &fakeRunner{result: &models.AuditResponse{
		Status: models.AuditStatusFailed,
		Error:  "lighthouse audits failed for both mobile and desktop",
	}}
	f := newDispatcherFixture(t, 1, 10, runner)

	resp, err := f.dispatcher.Submit("https://a.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)

	job := waitForStatus(t, f.registry, resp.JobID, models.JobStatusFailed)
	assert.Contains(t, job.Error, "lighthouse audits failed")
}

func TestDispatcher_CancelQueuedJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	f := newDispatcherFixture(t, 1, 10, runner)

	running, err := f.dispatcher.Submit("https://a.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)
	queued, err := f.dispatcher.Submit("https://b.example.com", models.AuditOptions{}, "10.0.0.1")
	require.NoError(t, err)

	cancelled, err := f.dispatcher.Cancel(queued.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	job := f.registry.Get(queued.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Cancelled by user", job.Error)

	// Running jobs cannot be cancelled
	cancelled, err = f.dispatcher.Cancel(running.JobID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	close(runner.block)
	waitForStatus(t, f.registry, running.JobID, models.JobStatusCompleted)
}
