package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testPool() *BrowserPool {
	return NewBrowserPool(arbor.NewLogger(), Config{
		PoolSize:      2,
		LaunchTimeout: 30 * time.Second,
		IdleTimeout:   300 * time.Second,
	})
}

func TestBrowserPool_AcquireBeforeInitialize(t *testing.T) {
	p := testPool()

	_, _, err := p.Acquire(context.Background())
	assert.ErrorContains(t, err, "not initialized")
}

func TestBrowserPool_StatsEmpty(t *testing.T) {
	p := testPool()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 2, stats.Capacity)
}

func TestBrowserPool_CleanupIdleEmpty(t *testing.T) {
	p := testPool()
	assert.Equal(t, 0, p.CleanupIdle())
}

func TestBrowserPool_PortAllocationReusesFreed(t *testing.T) {
	p := testPool()

	// Simulate two launched instances and one reclaim
	a := &Instance{Port: 9222, cancel: func() {}}
	b := &Instance{Port: 9223, cancel: func() {}}
	p.mu.Lock()
	p.instances = []*Instance{a, b}
	p.nextPort = 9224
	p.destroyLocked(0)
	freed := append([]int(nil), p.freePorts...)
	p.mu.Unlock()

	require.Equal(t, []int{9222}, freed)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total)
}

func TestBrowserPool_IdleReclaim(t *testing.T) {
	p := NewBrowserPool(arbor.NewLogger(), Config{
		PoolSize:      2,
		LaunchTimeout: 30 * time.Second,
		IdleTimeout:   time.Millisecond,
	})

	stale := &Instance{Port: 9222, cancel: func() {}, lastUsed: time.Now().Add(-time.Second)}
	busy := &Instance{Port: 9223, cancel: func() {}, inUse: true, lastUsed: time.Now().Add(-time.Second)}
	p.mu.Lock()
	p.instances = []*Instance{stale, busy}
	p.mu.Unlock()

	closed := p.CleanupIdle()
	assert.Equal(t, 1, closed)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
}

func TestInstanceConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	assert.True(t, instanceConnected(port))

	server.Close()
	assert.False(t, instanceConnected(port))
}
