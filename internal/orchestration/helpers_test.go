package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bl4ck0w1/easmscan/pkg/models"
)

type stubCapability struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, call int) ([]models.Issue, error)
}

func newStub(id string, fn func(ctx context.Context, call int) ([]models.Issue, error)) *stubCapability {
	return &stubCapability{id: id, fn: fn}
}

func (s *stubCapability) ID() string          { return s.id }
func (s *stubCapability) Name() string        { return "stub " + s.id }
func (s *stubCapability) Description() string { return "test capability" }

func (s *stubCapability) Execute(ctx context.Context, _ models.Target, _ models.Options) ([]models.Issue, error) {
	call := int(s.calls.Add(1))
	if s.fn == nil {
		return []models.Issue{}, nil
	}
	return s.fn(ctx, call)
}

func issuesOf(ids ...string) []models.Issue {
	out := make([]models.Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Issue{ID: id, Title: id, Severity: models.SeverityLow})
	}
	return out
}

func issue(id string, sev models.Severity) models.Issue {
	return models.Issue{ID: id, Title: id, Severity: sev}
}

// fakeSleeper records delays without actually sleeping.
type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return nil
}

func (f *fakeSleeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

type countingRecorder struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
	denied   int
	failures map[string]int
	issues   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		finished: make(map[string]int),
		failures: make(map[string]int),
		issues:   make(map[string]int),
	}
}

func (r *countingRecorder) ScanStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *countingRecorder) ScanFinished(status string, _ time.Duration) {
	r.mu.Lock()
	r.finished[status]++
	r.mu.Unlock()
}

func (r *countingRecorder) AdmissionDenied() {
	r.mu.Lock()
	r.denied++
	r.mu.Unlock()
}

func (r *countingRecorder) CapabilityFinished(id string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.failures[id]++
	r.mu.Unlock()
}

func (r *countingRecorder) IssuesFound(severity string, n int) {
	r.mu.Lock()
	r.issues[severity] += n
	r.mu.Unlock()
}
