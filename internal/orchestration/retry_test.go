package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(policy RetryPolicy) (*RetryingExecutor, *fakeSleeper) {
	e := NewRetryingExecutor(policy, nil)
	s := &fakeSleeper{}
	e.sleeper = s
	return e, s
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	e, s := newTestExecutor(DefaultRetryPolicy())
	c := newStub("ok", func(context.Context, int) ([]models.Issue, error) {
		return issuesOf("i1"), nil
	})

	issues, err := e.Execute(context.Background(), c, models.Target{URL: "http://x"}, models.Options{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Zero(t, s.count())
}

func TestExecute_AlwaysFailingInvokedOnePlusMaxRetries(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	e, s := newTestExecutor(RetryPolicy{MaxRetries: 3, Delay: time.Second})
	c := newStub("bad", func(context.Context, int) ([]models.Issue, error) {
		return nil, sentinel
	})

	issues, err := e.Execute(context.Background(), c, models.Target{URL: "http://x"}, models.Options{})
	require.Error(t, err)
	assert.Nil(t, issues)
	assert.EqualValues(t, 4, c.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, s.delays)

	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "bad", capErr.CapabilityID)
	assert.Equal(t, 4, capErr.Attempts)
	assert.ErrorIs(t, err, sentinel)
}

func TestExecute_SucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	e, s := newTestExecutor(RetryPolicy{MaxRetries: 3, Delay: time.Second})
	c := newStub("flaky", func(_ context.Context, call int) ([]models.Issue, error) {
		if call < 3 {
			return nil, errors.New("temporary")
		}
		return issuesOf("i1", "i2"), nil
	})

	issues, err := e.Execute(context.Background(), c, models.Target{URL: "http://x"}, models.Options{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.EqualValues(t, 3, c.calls.Load())
	assert.Equal(t, 2, s.count())
}

func TestExecute_ZeroRetries(t *testing.T) {
	t.Parallel()

	e, s := newTestExecutor(RetryPolicy{MaxRetries: 0})
	c := newStub("bad", func(context.Context, int) ([]models.Issue, error) {
		return nil, errors.New("nope")
	})

	_, err := e.Execute(context.Background(), c, models.Target{URL: "http://x"}, models.Options{})
	require.Error(t, err)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Zero(t, s.count())
}

func TestExecute_PanicCountsAsFailedAttempt(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(RetryPolicy{MaxRetries: 1})
	c := newStub("panicky", func(_ context.Context, call int) ([]models.Issue, error) {
		if call == 1 {
			panic("kaboom")
		}
		return issuesOf("after-panic"), nil
	})

	issues, err := e.Execute(context.Background(), c, models.Target{URL: "http://x"}, models.Options{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.EqualValues(t, 2, c.calls.Load())
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	e := NewRetryingExecutor(RetryPolicy{MaxRetries: 5, Delay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c := newStub("bad", func(context.Context, int) ([]models.Issue, error) {
		cancel()
		return nil, errors.New("fail")
	})

	_, err := e.Execute(ctx, c, models.Target{URL: "http://x"}, models.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestNewRetryingExecutor_ClampsNegativePolicy(t *testing.T) {
	t.Parallel()

	e := NewRetryingExecutor(RetryPolicy{MaxRetries: -2, Delay: -time.Second}, nil)
	assert.Equal(t, RetryPolicy{}, e.Policy())
}
