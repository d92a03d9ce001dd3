package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdmissionGate_RejectsNonPositiveRate(t *testing.T) {
	t.Parallel()

	_, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 0}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewAdmissionGate_Defaults(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAdmissionBackoff, g.backoff)
	assert.Equal(t, DefaultMaxAdmissionAttempts, g.maxAttempts)
}

func TestTryAcquire_CapacityThenDenied(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 2}, nil)
	require.NoError(t, err)

	require.NoError(t, g.TryAcquire())
	require.NoError(t, g.TryAcquire())
	assert.ErrorIs(t, g.TryAcquire(), ErrRateLimited)

	stats := g.Stats()
	assert.EqualValues(t, 2, stats.Granted)
	assert.EqualValues(t, 1, stats.Denied)
}

func TestTryAcquire_ConcurrentCallersNeverOvershoot(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 5}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.TryAcquire()
		}()
	}
	wg.Wait()

	stats := g.Stats()
	assert.EqualValues(t, 50, stats.Granted+stats.Denied)
	// one extra token may refill while the goroutines run
	assert.GreaterOrEqual(t, stats.Granted, int64(5))
	assert.LessOrEqual(t, stats.Granted, int64(6))
}

func TestAdmit_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 1, Backoff: time.Second, MaxAttempts: 4}, nil)
	require.NoError(t, err)
	s := &fakeSleeper{}
	g.sleeper = s

	require.NoError(t, g.TryAcquire())

	err = g.Admit(context.Background())
	require.ErrorIs(t, err, ErrAdmissionTimeout)
	assert.Equal(t, 3, s.count(), "no sleep after the final attempt")
	for _, d := range s.delays {
		assert.Equal(t, time.Second, d)
	}
	assert.EqualValues(t, 1, g.Stats().TimedOut)
}

func TestAdmit_GrantedAfterRefill(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 10, Backoff: 20 * time.Millisecond, MaxAttempts: 50}, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.TryAcquire())
	}

	start := time.Now()
	require.NoError(t, g.Admit(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAdmit_ContextCancelled(t *testing.T) {
	t.Parallel()

	g, err := NewAdmissionGate(AdmissionConfig{MaxScansPerSecond: 1, Backoff: time.Hour}, nil)
	require.NoError(t, err)
	require.NoError(t, g.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- g.Admit(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Admit did not return after cancellation")
	}
}
