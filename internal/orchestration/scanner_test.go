package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() ScanConfig {
	return ScanConfig{
		MaxScansPerSecond:    100,
		Retry:                RetryPolicy{MaxRetries: 3, Delay: time.Millisecond},
		AdmissionBackoff:     10 * time.Millisecond,
		MaxAdmissionAttempts: 5,
	}
}

func newTestScanner(t *testing.T, cfg ScanConfig, rec Recorder, caps ...Capability) *Scanner {
	t.Helper()
	reg, err := NewRegistry(caps...)
	require.NoError(t, err)
	s, err := NewScanner(reg, cfg, rec, nil)
	require.NoError(t, err)
	return s
}

var testTarget = models.Target{URL: "https://example.com"}

func TestScan_FailingCapabilityIsIsolated(t *testing.T) {
	t.Parallel()

	a := newStub("a", func(context.Context, int) ([]models.Issue, error) {
		return []models.Issue{issue("crit", models.SeverityCritical)}, nil
	})
	b := newStub("b", func(context.Context, int) ([]models.Issue, error) {
		return nil, errors.New("always fails")
	})
	rec := newCountingRecorder()
	s := newTestScanner(t, fastConfig(), rec, a, b)

	result, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "crit", result.Issues[0].ID)
	assert.Equal(t, models.Summary{TotalIssues: 1, CriticalCount: 1}, result.Summary)
	assert.EqualValues(t, 4, b.calls.Load(), "1 + MaxRetries invocations")
	assert.Equal(t, []string{"b"}, result.Metadata["failedCapabilities"])
	assert.Equal(t, testTarget, result.Target)
	assert.NotEmpty(t, result.ScanID)

	assert.Equal(t, 1, rec.failures["b"])
	assert.Equal(t, 1, rec.finished[string(StateCompleted)])
	assert.Equal(t, 1, rec.issues["critical"])
}

func TestScan_OrderFollowsRegistrationNotCompletion(t *testing.T) {
	t.Parallel()

	slow := newStub("slow", func(context.Context, int) ([]models.Issue, error) {
		time.Sleep(50 * time.Millisecond)
		return issuesOf("slow-1", "slow-2"), nil
	})
	fast := newStub("fast", func(context.Context, int) ([]models.Issue, error) {
		return issuesOf("fast-1"), nil
	})
	s := newTestScanner(t, fastConfig(), nil, slow, fast)

	for i := 0; i < 3; i++ {
		result, err := s.Scan(context.Background(), testTarget, models.Options{})
		require.NoError(t, err)

		ids := make([]string, 0, len(result.Issues))
		for _, is := range result.Issues {
			ids = append(ids, is.ID)
		}
		assert.Equal(t, []string{"slow-1", "slow-2", "fast-1"}, ids)
	}
}

func TestScan_IssueCountBoundedByStandaloneRuns(t *testing.T) {
	t.Parallel()

	caps := []*stubCapability{
		newStub("one", func(context.Context, int) ([]models.Issue, error) { return issuesOf("1"), nil }),
		newStub("three", func(context.Context, int) ([]models.Issue, error) { return issuesOf("1", "2", "3"), nil }),
		newStub("none", func(context.Context, int) ([]models.Issue, error) { return nil, nil }),
		newStub("flaky", func(_ context.Context, call int) ([]models.Issue, error) {
			if call%2 == 1 {
				return nil, errors.New("odd call")
			}
			return issuesOf("x", "y"), nil
		}),
	}

	standalone := 0
	for _, c := range caps {
		issues, err := c.fn(context.Background(), 2)
		if err == nil {
			standalone += len(issues)
		}
	}

	asCaps := make([]Capability, 0, len(caps))
	for _, c := range caps {
		asCaps = append(asCaps, c)
	}
	s := newTestScanner(t, fastConfig(), nil, asCaps...)

	result, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Issues), standalone)
	assert.Equal(t, result.Summary.TotalIssues, result.Summary.BucketTotal())
	assert.Equal(t, len(result.Issues), result.Summary.TotalIssues)
}

func TestScan_NoCapabilities(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t, fastConfig(), nil)
	result, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Issues)
	assert.Equal(t, models.Summary{}, result.Summary)
}

func TestScan_EmptyTargetRejected(t *testing.T) {
	t.Parallel()

	c := newStub("c", nil)
	s := newTestScanner(t, fastConfig(), nil, c)

	_, err := s.Scan(context.Background(), models.Target{}, models.Options{})
	require.ErrorIs(t, err, ErrInvalidTarget)
	assert.Zero(t, c.calls.Load())
}

func TestNewScanner_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry()
	require.NoError(t, err)

	cfg := fastConfig()
	cfg.MaxScansPerSecond = 0
	_, err = NewScanner(reg, cfg, nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewScanner(nil, fastConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestScan_SecondConcurrentScanWaitsForAdmission(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxScansPerSecond = 1
	cfg.AdmissionBackoff = 100 * time.Millisecond
	cfg.MaxAdmissionAttempts = 30
	rec := newCountingRecorder()
	s := newTestScanner(t, cfg, rec, newStub("c", nil))

	var wg sync.WaitGroup
	durations := make([]time.Duration, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.Scan(context.Background(), testTarget, models.Options{})
			errs[i] = err
			if err == nil {
				durations[i] = result.Duration
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	slower := durations[0]
	if durations[1] > slower {
		slower = durations[1]
	}
	assert.GreaterOrEqual(t, slower, cfg.AdmissionBackoff)
	assert.GreaterOrEqual(t, rec.denied, 1)
}

func TestScan_AdmissionTimeout(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxScansPerSecond = 1
	cfg.AdmissionBackoff = time.Millisecond
	cfg.MaxAdmissionAttempts = 2
	c := newStub("c", nil)
	rec := newCountingRecorder()
	s := newTestScanner(t, cfg, rec, c)

	_, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), testTarget, models.Options{})
	require.ErrorIs(t, err, ErrAdmissionTimeout)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Equal(t, 1, rec.finished[string(StateFailed)])
}

func TestScan_CancelScanAbortsRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	blocking := newStub("blocking", func(ctx context.Context, _ int) ([]models.Issue, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := fastConfig()
	cfg.Retry = RetryPolicy{}
	s := newTestScanner(t, cfg, nil, blocking)

	done := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background(), testTarget, models.Options{})
		done <- err
	}()

	<-started
	active := s.ListActiveScans()
	require.Len(t, active, 1)
	assert.Equal(t, StateRunning, active[0].State)
	assert.Equal(t, 1, active[0].Capabilities)

	status, err := s.GetScanStatus(active[0].ScanID)
	require.NoError(t, err)
	assert.Equal(t, testTarget, status.Target)

	require.NoError(t, s.CancelScan(active[0].ScanID))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not stop after cancellation")
	}
	assert.Empty(t, s.ListActiveScans())

	status, err = s.GetScanStatus(active[0].ScanID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	require.NotNil(t, status.EndTime)
	assert.ErrorIs(t, s.CancelScan(active[0].ScanID), ErrScanNotFound)

	assert.ErrorIs(t, s.CancelScan("scan_missing"), ErrScanNotFound)
	_, err = s.GetScanStatus("scan_missing")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestScan_FinishedStatusRetained(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t, fastConfig(), nil, newStub("c", nil))
	res, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)

	status, err := s.GetScanStatus(res.ScanID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, status.Finished)
	assert.Equal(t, float64(100), status.Progress)
	assert.Empty(t, s.ListActiveScans())
	assert.Equal(t, 0, s.GetStats()["active_scans"])
}

func TestScan_FinishedStatusExpires(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.StatusRetention = 20 * time.Millisecond
	s := newTestScanner(t, cfg, nil, newStub("c", nil))
	res, err := s.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.GetScanStatus(res.ScanID)
		return errors.Is(err, ErrScanNotFound)
	}, time.Second, 5*time.Millisecond)

	cfg.StatusRetention = -1
	off := newTestScanner(t, cfg, nil, newStub("c", nil))
	res, err = off.Scan(context.Background(), testTarget, models.Options{})
	require.NoError(t, err)
	_, err = off.GetScanStatus(res.ScanID)
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestScan_CallerContextCancelled(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t, fastConfig(), nil, newStub("c", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, testTarget, models.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_OptionsPassedThroughUntouched(t *testing.T) {
	t.Parallel()

	var got models.Options
	var mu sync.Mutex
	c := &optionsCapture{fn: func(o models.Options) {
		mu.Lock()
		got = o
		mu.Unlock()
	}}
	s := newTestScanner(t, fastConfig(), nil, c)

	opts := models.Options{Timeout: 3 * time.Second, Depth: 2, Headers: map[string]string{"X-Test": "1"}}
	_, err := s.Scan(context.Background(), testTarget, opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, opts, got)
}

func TestScanner_GetStats(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t, fastConfig(), nil, newStub("a", nil), newStub("b", nil))
	stats := s.GetStats()
	assert.Equal(t, 2, stats["capabilities"])
	assert.Equal(t, 0, stats["active_scans"])
	assert.Equal(t, 3, stats["max_retries"])
}

func TestDefaultScanConfig(t *testing.T) {
	t.Parallel()

	def := DefaultScanConfig()
	assert.Equal(t, 10, def.MaxScansPerSecond)
	assert.Equal(t, DefaultStatusRetention, def.StatusRetention)

	fromModels := ScanConfigFrom(models.DefaultConfig().Scanner)
	assert.Equal(t, def.MaxScansPerSecond, fromModels.MaxScansPerSecond)
	assert.Equal(t, 5*time.Minute, fromModels.StatusRetention)
}

type optionsCapture struct {
	fn func(models.Options)
}

func (o *optionsCapture) ID() string          { return "capture" }
func (o *optionsCapture) Name() string        { return "capture" }
func (o *optionsCapture) Description() string { return "" }

func (o *optionsCapture) Execute(_ context.Context, _ models.Target, opts models.Options) ([]models.Issue, error) {
	o.fn(opts)
	return nil, nil
}
