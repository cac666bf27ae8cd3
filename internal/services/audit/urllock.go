package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

type urlLock struct {
	ch   chan struct{}
	refs int
}

// LockStats counts lock activity.
type LockStats struct {
	ActiveLocks      int   `json:"active_locks"`
	LockAcquisitions int64 `json:"lock_acquisitions"`
	LockWaits        int64 `json:"lock_waits"`
}

// URLLockManager serializes audits per normalized URL. The first caller runs
// the audit; later callers block until release and should re-probe the cache.
type URLLockManager struct {
	mu    sync.Mutex
	locks map[string]*urlLock

	acquisitions atomic.Int64
	waits        atomic.Int64
}

// NewURLLockManager creates an empty lock manager.
func NewURLLockManager() *URLLockManager {
	return &URLLockManager{locks: make(map[string]*urlLock)}
}

// Acquire takes the lock for a URL. Returns wasFirst=true when the lock was
// free, false when the caller had to wait for another audit to finish.
func (m *URLLockManager) Acquire(ctx context.Context, url string) (bool, error) {
	hash := sqlite.URLHash(url)

	m.mu.Lock()
	lock, ok := m.locks[hash]
	if !ok {
		lock = &urlLock{ch: make(chan struct{}, 1)}
		m.locks[hash] = lock
	}
	lock.refs++
	m.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		m.acquisitions.Add(1)
		return true, nil
	default:
	}

	m.waits.Add(1)
	select {
	case lock.ch <- struct{}{}:
		m.acquisitions.Add(1)
		return false, nil
	case <-ctx.Done():
		m.mu.Lock()
		lock.refs--
		m.mu.Unlock()
		return false, ctx.Err()
	}
}

// Release frees the lock for a URL. Safe to call when not held.
func (m *URLLockManager) Release(url string) {
	hash := sqlite.URLHash(url)

	m.mu.Lock()
	lock, ok := m.locks[hash]
	if !ok {
		m.mu.Unlock()
		return
	}
	lock.refs--
	m.mu.Unlock()

	select {
	case <-lock.ch:
	default:
	}
}

// Cleanup removes lock entries with no holder or waiters. Returns the number
// removed.
func (m *URLLockManager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, lock := range m.locks {
		if lock.refs <= 0 && len(lock.ch) == 0 {
			delete(m.locks, hash)
			removed++
		}
	}
	return removed
}

// Stats returns lock counters.
func (m *URLLockManager) Stats() LockStats {
	m.mu.Lock()
	active := len(m.locks)
	m.mu.Unlock()

	return LockStats{
		ActiveLocks:      active,
		LockAcquisitions: m.acquisitions.Load(),
		LockWaits:        m.waits.Load(),
	}
}
