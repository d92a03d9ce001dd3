package orchestration

import (
	"context"
	"fmt"
	"time"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// RetryPolicy is a fixed-delay policy: 1+MaxRetries attempts, Delay apart.
type RetryPolicy struct {
	MaxRetries int           `json:"maxRetries" yaml:"max_retries"`
	Delay      time.Duration `json:"delay" yaml:"delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, Delay: DefaultRetryDelay}
}

type RetryingExecutor struct {
	policy  RetryPolicy
	sleeper sleeper
	logger  *logrus.Logger
}

func NewRetryingExecutor(policy RetryPolicy, logger *logrus.Logger) *RetryingExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	return &RetryingExecutor{
		policy:  policy,
		sleeper: realSleeper{},
		logger:  logger,
	}
}

func (r *RetryingExecutor) Policy() RetryPolicy { return r.policy }

// Execute runs c until it succeeds or the policy is exhausted. Every error
// is retried the same way; the final one comes back as a *CapabilityError.
func (r *RetryingExecutor) Execute(ctx context.Context, c Capability, target models.Target, opts models.Options) ([]models.Issue, error) {
	attempts := r.policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		issues, err := safeExecute(ctx, c, target, opts)
		if err == nil {
			return issues, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		r.logger.Debugf("Capability %s failed (attempt %d/%d), retrying in %v: %v",
			c.ID(), attempt, attempts, r.policy.Delay, err)

		if err := r.sleeper.sleep(ctx, r.policy.Delay); err != nil {
			return nil, &CapabilityError{CapabilityID: c.ID(), Attempts: attempt, Err: err}
		}
	}

	return nil, &CapabilityError{CapabilityID: c.ID(), Attempts: attempts, Err: lastErr}
}

func safeExecute(ctx context.Context, c Capability, target models.Target, opts models.Options) (issues []models.Issue, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			issues = nil
			err = fmt.Errorf("capability panicked: %v", rec)
		}
	}()
	return c.Execute(ctx, target, opts)
}
