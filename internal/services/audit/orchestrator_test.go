package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// testOrchestrator wires a pipeline whose lighthouse stage cannot run: the
// CLI check or the uninitialized pool fails fast, exercising the failure path.
func testOrchestrator(t *testing.T) (*Orchestrator, *sqlite.CacheStorage) {
	t.Helper()
	logger := arbor.NewLogger()

	db := sqlite.NewDB(logger, filepath.Join(t.TempDir(), "audit_cache.db"))
	t.Cleanup(func() { db.Close() })
	cache := sqlite.NewCacheStorage(logger, db, 3600)

	browsers := pool.NewBrowserPool(logger, pool.Config{PoolSize: 1, LaunchTimeout: time.Second, IdleTimeout: time.Minute})
	crux := NewCrUXClient(logger, "test-key", breaker.New(breaker.PSIBreaker, breaker.DefaultConfig()))

	o := NewOrchestrator(
		logger,
		cache,
		NewURLLockManager(),
		NewLighthouseRunner(logger, browsers),
		crux,
		nil,
		breaker.New(breaker.AIBreaker, breaker.DefaultConfig()),
	)
	return o, cache
}

func TestOrchestrator_CacheHit(t *testing.T) {
	o, cache := testOrchestrator(t)

	cached := &models.AuditResponse{
		Status: models.AuditStatusSuccess,
		URL:    "https://example.com",
	}
	cache.Put("https://example.com", cached)

	result := o.Run(context.Background(), "https://example.com", models.AuditOptions{TimeoutSeconds: 60}, StageCallbacks{})
	require.NotNil(t, result)
	assert.Equal(t, models.AuditStatusSuccess, result.Status)
	assert.Equal(t, "https://example.com", result.URL)
}

func TestOrchestrator_NoCacheBypassesCachedResult(t *testing.T) {
	o, cache := testOrchestrator(t)

	cache.Put("https://example.com", &models.AuditResponse{
		Status: models.AuditStatusSuccess,
		URL:    "https://example.com",
	})

	result := o.Run(context.Background(), "https://example.com", models.AuditOptions{TimeoutSeconds: 60, NoCache: true}, StageCallbacks{})
	require.NotNil(t, result)
	// Lighthouse cannot run in this environment, so bypassing the cache fails
	assert.Equal(t, models.AuditStatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestOrchestrator_FailedResultNotCached(t *testing.T) {
	o, cache := testOrchestrator(t)

	result := o.Run(context.Background(), "https://example.com", models.AuditOptions{TimeoutSeconds: 60}, StageCallbacks{})
	require.NotNil(t, result)
	require.Equal(t, models.AuditStatusFailed, result.Status)

	assert.Nil(t, cache.Get("https://example.com"))
}

func TestOrchestrator_FailedReportsSideErrors(t *testing.T) {
	o, _ := testOrchestrator(t)

	result := o.Run(context.Background(), "https://example.com", models.AuditOptions{TimeoutSeconds: 60}, StageCallbacks{})
	require.NotNil(t, result)
	require.Equal(t, models.AuditStatusFailed, result.Status)

	// The underlying failure reason for each form factor is recorded, not a
	// generic placeholder
	assert.Contains(t, result.Error, "Mobile: ")
	assert.Contains(t, result.Error, "Desktop: ")
	assert.NotContains(t, result.Error, "lighthouse run failed")
}

func TestOrchestrator_WaiterUsesResultFromFirstAudit(t *testing.T) {
	o, cache := testOrchestrator(t)
	url := "https://example.com"

	// Hold the url lock so the audit below becomes a waiter
	wasFirst, err := o.locks.Acquire(context.Background(), url)
	require.NoError(t, err)
	require.True(t, wasFirst)

	done := make(chan *models.AuditResponse, 1)
	go func() {
		done <- o.Run(context.Background(), url, models.AuditOptions{TimeoutSeconds: 60}, StageCallbacks{})
	}()

	// Wait until the second audit is parked on the lock
	deadline := time.Now().Add(2 * time.Second)
	for o.locks.Stats().LockWaits == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, o.locks.Stats().LockWaits)
	select {
	case <-done:
		t.Fatal("audit ran before the lock was released")
	default:
	}

	// First audit finishes: result cached, lock released
	cache.Put(url, &models.AuditResponse{Status: models.AuditStatusSuccess, URL: url})
	o.locks.Release(url)

	// Lighthouse cannot run in this environment, so a success result can only
	// come from the cache re-probe after the lock handoff
	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Equal(t, models.AuditStatusSuccess, result.Status)
		assert.Equal(t, url, result.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never returned after lock release")
	}
}

func TestOrchestrator_LockReleasedAfterFailure(t *testing.T) {
	o, _ := testOrchestrator(t)

	o.Run(context.Background(), "https://example.com", models.AuditOptions{TimeoutSeconds: 60}, StageCallbacks{})

	// A second run must not block on the url lock
	wasFirst, err := o.locks.Acquire(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.True(t, wasFirst)
	o.locks.Release("https://example.com")
}
