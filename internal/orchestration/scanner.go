package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type ScanState string

const (
	StatePending           ScanState = "pending"
	StateAwaitingAdmission ScanState = "awaiting_admission"
	StateRunning           ScanState = "running"
	StateAggregating       ScanState = "aggregating"
	StateCompleted         ScanState = "completed"
	StateFailed            ScanState = "failed"
)

// Recorder receives scan lifecycle events. *utils.ScanMetrics implements it.
type Recorder interface {
	ScanStarted()
	ScanFinished(status string, d time.Duration)
	AdmissionDenied()
	CapabilityFinished(id string, d time.Duration, err error)
	IssuesFound(severity string, n int)
}

type noopRecorder struct{}

func (noopRecorder) ScanStarted()                                     {}
func (noopRecorder) ScanFinished(string, time.Duration)               {}
func (noopRecorder) AdmissionDenied()                                 {}
func (noopRecorder) CapabilityFinished(string, time.Duration, error) {}
func (noopRecorder) IssuesFound(string, int)                          {}

type ScanConfig struct {
	MaxScansPerSecond    int           `yaml:"max_scans_per_second" json:"max_scans_per_second"`
	Retry                RetryPolicy   `yaml:"retry" json:"retry"`
	AdmissionBackoff     time.Duration `yaml:"admission_backoff" json:"admission_backoff"`
	MaxAdmissionAttempts int           `yaml:"max_admission_attempts" json:"max_admission_attempts"`
	// StatusRetention is how long a finished scan stays visible to
	// GetScanStatus. Zero means DefaultStatusRetention, negative disables it.
	StatusRetention time.Duration `yaml:"status_retention" json:"status_retention"`
}

const DefaultStatusRetention = 5 * time.Minute

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxScansPerSecond:    10,
		Retry:                DefaultRetryPolicy(),
		AdmissionBackoff:     DefaultAdmissionBackoff,
		MaxAdmissionAttempts: DefaultMaxAdmissionAttempts,
		StatusRetention:      DefaultStatusRetention,
	}
}

func ScanConfigFrom(c models.ScannerConfig) ScanConfig {
	return ScanConfig{
		MaxScansPerSecond:    c.MaxScansPerSecond,
		Retry:                RetryPolicy{MaxRetries: c.MaxRetries, Delay: c.RetryDelay},
		AdmissionBackoff:     c.AdmissionBackoff,
		MaxAdmissionAttempts: c.MaxAdmissionAttempts,
		StatusRetention:      c.StatusRetention,
	}
}

// ScanContext tracks one in-flight scan.
type ScanContext struct {
	ScanID    string
	Target    models.Target
	StartTime time.Time
	EndTime   time.Time
	State     ScanState
	total     int
	finished  atomic.Int32
	cancel    context.CancelFunc
}

// ScanStatus is a point-in-time copy of a ScanContext.
type ScanStatus struct {
	ScanID       string        `json:"scanId"`
	Target       models.Target `json:"target"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	State        ScanState     `json:"state"`
	Capabilities int           `json:"capabilities"`
	Finished     int           `json:"finished"`
	Progress     float64       `json:"progress"`
}

type Scanner struct {
	registry    *Registry
	gate        *AdmissionGate
	executor    *RetryingExecutor
	recorder    Recorder
	logger      *logrus.Logger
	mu          sync.RWMutex
	activeScans map[string]*ScanContext
	finished    map[string]*ScanContext
	scanConfig  ScanConfig
}

func NewScanner(registry *Registry, config ScanConfig, recorder Recorder, logger *logrus.Logger) (*Scanner, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfiguration)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}

	gate, err := NewAdmissionGate(AdmissionConfig{
		MaxScansPerSecond: config.MaxScansPerSecond,
		Backoff:           config.AdmissionBackoff,
		MaxAttempts:       config.MaxAdmissionAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}
	gate.onDenied = recorder.AdmissionDenied
	if config.StatusRetention == 0 {
		config.StatusRetention = DefaultStatusRetention
	}

	return &Scanner{
		registry:    registry,
		gate:        gate,
		executor:    NewRetryingExecutor(config.Retry, logger),
		recorder:    recorder,
		logger:      logger,
		activeScans: make(map[string]*ScanContext),
		finished:    make(map[string]*ScanContext),
		scanConfig:  config,
	}, nil
}

func (s *Scanner) Registry() *Registry { return s.registry }

// Scan runs every registered capability against target once admitted.
// Capability failures are logged and leave no trace in the result; only
// admission, target validation and context errors are returned.
func (s *Scanner) Scan(ctx context.Context, target models.Target, opts models.Options) (*models.ScanResult, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sc := &ScanContext{
		ScanID:    generateScanID(),
		Target:    target,
		StartTime: time.Now(),
		State:     StatePending,
		cancel:    cancel,
	}
	s.track(sc)
	defer s.untrack(sc.ScanID)
	s.recorder.ScanStarted()

	log := s.logger.WithFields(logrus.Fields{"scan_id": sc.ScanID, "target": target.String()})

	s.setState(sc, StateAwaitingAdmission)
	if err := s.gate.Admit(scanCtx); err != nil {
		s.fail(sc)
		log.WithError(err).Warn("Scan not admitted")
		return nil, err
	}

	caps := s.registry.List()
	s.mu.Lock()
	sc.total = len(caps)
	s.mu.Unlock()
	s.setState(sc, StateRunning)
	log.Infof("Scan admitted, running %d capabilities", len(caps))

	outcomes := make([]Outcome, len(caps))
	var g errgroup.Group
	for i, c := range caps {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = s.runCapability(scanCtx, log, c, target, opts)
			sc.finished.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := scanCtx.Err(); err != nil {
		s.fail(sc)
		log.WithError(err).Warn("Scan aborted")
		return nil, err
	}

	s.setState(sc, StateAggregating)
	issues, summary := Aggregate(outcomes)

	failed := make([]string, 0)
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.CapabilityID)
		}
	}

	duration := time.Since(sc.StartTime)
	result := &models.ScanResult{
		ScanID:    sc.ScanID,
		Target:    target,
		Issues:    issues,
		Timestamp: sc.StartTime,
		Duration:  duration,
		Summary:   summary,
		Metadata: map[string]interface{}{
			"capabilities":       len(caps),
			"failedCapabilities": failed,
		},
	}

	for _, sev := range models.Severities() {
		s.recorder.IssuesFound(sev.String(), summary.Count(sev))
	}
	s.setState(sc, StateCompleted)
	s.recorder.ScanFinished(string(StateCompleted), duration)

	log.WithFields(logrus.Fields{
		"issues":   summary.TotalIssues,
		"critical": summary.CriticalCount,
		"high":     summary.HighCount,
		"failed":   len(failed),
		"duration": duration.String(),
	}).Info("Scan completed")

	return result, nil
}

func (s *Scanner) runCapability(ctx context.Context, log *logrus.Entry, c Capability, target models.Target, opts models.Options) Outcome {
	start := time.Now()
	issues, err := s.executor.Execute(ctx, c, target, opts)
	o := Outcome{CapabilityID: c.ID(), Issues: issues, Err: err, Duration: time.Since(start)}
	s.recorder.CapabilityFinished(c.ID(), o.Duration, err)

	clog := log.WithField("capability", c.ID())
	if err != nil {
		clog.WithError(err).Error("Capability failed")
		return o
	}
	for _, issue := range issues {
		if !issue.Severity.IsValid() {
			clog.Warnf("Dropping issue %q with unknown severity %q", issue.ID, issue.Severity)
		}
	}
	clog.Debugf("Capability finished with %d issues in %v", len(issues), o.Duration)
	return o
}

// GetScanStatus reports an in-flight scan, or a finished one (completed or
// failed) for StatusRetention after it ended.
func (s *Scanner) GetScanStatus(scanID string) (*ScanStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sc, ok := s.activeScans[scanID]; ok {
		return snapshot(sc), nil
	}
	if sc, ok := s.finished[scanID]; ok && time.Since(sc.EndTime) < s.scanConfig.StatusRetention {
		return snapshot(sc), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
}

func (s *Scanner) CancelScan(scanID string) error {
	s.mu.RLock()
	sc, exists := s.activeScans[scanID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}

	sc.cancel()
	s.logger.Infof("Scan cancelled: %s", scanID)
	return nil
}

func (s *Scanner) ListActiveScans() []*ScanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scans := make([]*ScanStatus, 0, len(s.activeScans))
	for _, sc := range s.activeScans {
		scans = append(scans, snapshot(sc))
	}
	return scans
}

func (s *Scanner) GetStats() map[string]interface{} {
	s.mu.RLock()
	active := len(s.activeScans)
	s.mu.RUnlock()

	return map[string]interface{}{
		"active_scans":           active,
		"capabilities":           s.registry.Len(),
		"max_scans_per_second":   s.scanConfig.MaxScansPerSecond,
		"max_retries":            s.executor.Policy().MaxRetries,
		"retry_delay":            s.executor.Policy().Delay.String(),
		"admission_backoff":      s.gate.backoff.String(),
		"max_admission_attempts": s.gate.maxAttempts,
		"admission":              s.gate.Stats(),
	}
}

func (s *Scanner) track(sc *ScanContext) {
	s.mu.Lock()
	s.activeScans[sc.ScanID] = sc
	s.mu.Unlock()
}

func (s *Scanner) untrack(scanID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.activeScans[scanID]
	if !ok {
		return
	}
	delete(s.activeScans, scanID)

	now := time.Now()
	for id, old := range s.finished {
		if now.Sub(old.EndTime) >= s.scanConfig.StatusRetention {
			delete(s.finished, id)
		}
	}
	if s.scanConfig.StatusRetention > 0 {
		sc.EndTime = now
		s.finished[scanID] = sc
	}
}

func (s *Scanner) setState(sc *ScanContext, state ScanState) {
	s.mu.Lock()
	sc.State = state
	s.mu.Unlock()
}

func (s *Scanner) fail(sc *ScanContext) {
	s.setState(sc, StateFailed)
	s.recorder.ScanFinished(string(StateFailed), time.Since(sc.StartTime))
}

// snapshot must be called with s.mu held.
func snapshot(sc *ScanContext) *ScanStatus {
	st := &ScanStatus{
		ScanID:       sc.ScanID,
		Target:       sc.Target,
		StartTime:    sc.StartTime,
		State:        sc.State,
		Capabilities: sc.total,
		Finished:     int(sc.finished.Load()),
	}
	if !sc.EndTime.IsZero() {
		end := sc.EndTime
		st.EndTime = &end
	}
	if st.Capabilities > 0 {
		st.Progress = float64(st.Finished) / float64(st.Capabilities) * 100
	}
	return st
}

func generateScanID() string {
	return fmt.Sprintf("scan_%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
}
