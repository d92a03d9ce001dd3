package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultAdmissionBackoff     = time.Second
	DefaultMaxAdmissionAttempts = 30
)

type AdmissionConfig struct {
	MaxScansPerSecond int
	Backoff           time.Duration
	MaxAttempts       int
}

type AdmissionStats struct {
	Granted  int64 `json:"granted"`
	Denied   int64 `json:"denied"`
	TimedOut int64 `json:"timedOut"`
}

// AdmissionGate is a token bucket holding MaxScansPerSecond tokens, refilled
// at the same rate per second. Each admitted scan consumes one token.
type AdmissionGate struct {
	limiter     *rate.Limiter
	backoff     time.Duration
	maxAttempts int
	sleeper     sleeper
	logger      *logrus.Logger
	onDenied    func()

	mu    sync.Mutex
	stats AdmissionStats
}

func NewAdmissionGate(cfg AdmissionConfig, logger *logrus.Logger) (*AdmissionGate, error) {
	if cfg.MaxScansPerSecond <= 0 {
		return nil, fmt.Errorf("%w: max scans per second must be > 0, got %d", ErrConfiguration, cfg.MaxScansPerSecond)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultAdmissionBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAdmissionAttempts
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &AdmissionGate{
		limiter:     rate.NewLimiter(rate.Limit(cfg.MaxScansPerSecond), cfg.MaxScansPerSecond),
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		sleeper:     realSleeper{},
		logger:      logger,
	}, nil
}

// TryAcquire takes one token without waiting.
func (g *AdmissionGate) TryAcquire() error {
	if g.limiter.Allow() {
		g.mu.Lock()
		g.stats.Granted++
		g.mu.Unlock()
		return nil
	}
	g.mu.Lock()
	g.stats.Denied++
	g.mu.Unlock()
	if g.onDenied != nil {
		g.onDenied()
	}
	return ErrRateLimited
}

// Admit retries TryAcquire every backoff until a token is granted, the
// attempt budget runs out or ctx is done.
func (g *AdmissionGate) Admit(ctx context.Context) error {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.TryAcquire(); err == nil {
			return nil
		}
		if attempt == g.maxAttempts {
			break
		}
		g.logger.Debugf("Scan admission denied (attempt %d/%d), retrying in %v", attempt, g.maxAttempts, g.backoff)
		if err := g.sleeper.sleep(ctx, g.backoff); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.stats.TimedOut++
	g.mu.Unlock()
	return fmt.Errorf("%w: no slot after %d attempts", ErrAdmissionTimeout, g.maxAttempts)
}

func (g *AdmissionGate) Stats() AdmissionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
