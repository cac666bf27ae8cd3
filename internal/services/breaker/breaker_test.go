package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New("test", testConfig())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New("test", testConfig())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := New("test", testConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Single probe call allowed, second is rejected
	assert.True(t, cb.CanExecute())
	assert.False(t, cb.CanExecute())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := New("test", testConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestBreaker_FailureInHalfOpenReopens(t *testing.T) {
	cb := New("test", testConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestBreaker_Reset(t *testing.T) {
	cb := New("test", testConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestBreaker_Stats(t *testing.T) {
	cb := New("psi_api", testConfig())

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, "psi_api", stats.Name)
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, 2, stats.ConsecutiveFailures)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := NewRegistry()

	a := reg.GetOrCreate("psi_api", DefaultConfig())
	b := reg.GetOrCreate("psi_api", DefaultConfig())
	assert.Same(t, a, b)

	assert.Nil(t, reg.Get("missing"))
	assert.NotNil(t, reg.Get("psi_api"))
}

func TestRegistry_AnyOpen(t *testing.T) {
	reg := NewRegistry()
	cb := reg.GetOrCreate("google_ai", testConfig())

	assert.False(t, reg.AnyOpen())
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.True(t, reg.AnyOpen())

	reg.ResetAll()
	assert.False(t, reg.AnyOpen())
}

func TestRegistry_AllStats(t *testing.T) {
	reg := NewRegistry()
	reg.GetOrCreate("psi_api", DefaultConfig())
	reg.GetOrCreate("google_ai", DefaultConfig())

	stats := reg.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateClosed, stats["psi_api"].State)
	assert.Equal(t, StateClosed, stats["google_ai"].State)
}
