package utils

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricScansTotal         = "easmscan_scans_total"
	MetricScanDuration       = "easmscan_scan_duration_seconds"
	MetricActiveScans        = "easmscan_active_scans"
	MetricAdmissionDenied    = "easmscan_admission_denied_total"
	MetricCapabilityFailures = "easmscan_capability_failures_total"
	MetricCapabilityDuration = "easmscan_capability_duration_seconds"
	MetricIssuesTotal        = "easmscan_issues_total"
	MetricReconAssets        = "easmscan_recon_assets_total"
)

type MetricsCollector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.RWMutex
}

func NewMetricsCollector(enableRuntimeMetrics bool) *MetricsCollector {
	reg := prometheus.NewRegistry()

	if enableRuntimeMetrics {
		_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		_ = reg.Register(collectors.NewGoCollector())
	}

	return &MetricsCollector{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (m *MetricsCollector) RegisterCounter(name, help string, labelNames ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[name]; ok {
		return nil
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
	if err := m.registry.Register(cv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.counters[name] = are.ExistingCollector.(*prometheus.CounterVec)
			return nil
		}
		return err
	}
	m.counters[name] = cv
	return nil
}

func (m *MetricsCollector) RegisterGauge(name, help string, labelNames ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gauges[name]; ok {
		return nil
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	if err := m.registry.Register(gv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.gauges[name] = are.ExistingCollector.(*prometheus.GaugeVec)
			return nil
		}
		return err
	}
	m.gauges[name] = gv
	return nil
}

func (m *MetricsCollector) RegisterHistogram(name, help string, buckets []float64, labelNames ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.histograms[name]; ok {
		return nil
	}
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labelNames)
	if err := m.registry.Register(hv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.histograms[name] = are.ExistingCollector.(*prometheus.HistogramVec)
			return nil
		}
		return err
	}
	m.histograms[name] = hv
	return nil
}

func (m *MetricsCollector) IncCounter(name string, delta float64, labels prometheus.Labels) {
	m.mu.RLock()
	cv := m.counters[name]
	m.mu.RUnlock()
	if cv != nil {
		cv.With(labels).Add(delta)
	}
}

func (m *MetricsCollector) AddGauge(name string, delta float64, labels prometheus.Labels) {
	m.mu.RLock()
	gv := m.gauges[name]
	m.mu.RUnlock()
	if gv != nil {
		gv.With(labels).Add(delta)
	}
}

func (m *MetricsCollector) ObserveHistogram(name string, value float64, labels prometheus.Labels) {
	m.mu.RLock()
	hv := m.histograms[name]
	m.mu.RUnlock()
	if hv != nil {
		hv.With(labels).Observe(value)
	}
}

func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartServerWithContext(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server error: %w", err)
	}
}

// ScanMetrics is the fixed metric set recorded by the scanner and recon manager.
type ScanMetrics struct {
	*MetricsCollector
}

func NewScanMetrics(collector *MetricsCollector) (*ScanMetrics, error) {
	if collector == nil {
		collector = NewMetricsCollector(false)
	}
	regs := []func() error{
		func() error { return collector.RegisterCounter(MetricScansTotal, "Scans finished, by outcome.", "status") },
		func() error {
			return collector.RegisterHistogram(MetricScanDuration, "Wall-clock scan duration.", nil, "status")
		},
		func() error { return collector.RegisterGauge(MetricActiveScans, "Scans currently in flight.") },
		func() error { return collector.RegisterCounter(MetricAdmissionDenied, "Admission attempts denied by the rate gate.") },
		func() error {
			return collector.RegisterCounter(MetricCapabilityFailures, "Capabilities that failed after all retries.", "capability")
		},
		func() error {
			return collector.RegisterHistogram(MetricCapabilityDuration, "Per-capability execution time.", nil, "capability")
		},
		func() error { return collector.RegisterCounter(MetricIssuesTotal, "Issues reported, by severity.", "severity") },
		func() error { return collector.RegisterCounter(MetricReconAssets, "Assets discovered, by source.", "source") },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return nil, fmt.Errorf("register scan metrics: %w", err)
		}
	}
	return &ScanMetrics{MetricsCollector: collector}, nil
}

func (s *ScanMetrics) ScanStarted() {
	s.AddGauge(MetricActiveScans, 1, prometheus.Labels{})
}

func (s *ScanMetrics) ScanFinished(status string, d time.Duration) {
	s.AddGauge(MetricActiveScans, -1, prometheus.Labels{})
	s.IncCounter(MetricScansTotal, 1, prometheus.Labels{"status": status})
	s.ObserveHistogram(MetricScanDuration, d.Seconds(), prometheus.Labels{"status": status})
}

func (s *ScanMetrics) AdmissionDenied() {
	s.IncCounter(MetricAdmissionDenied, 1, prometheus.Labels{})
}

func (s *ScanMetrics) CapabilityFinished(id string, d time.Duration, err error) {
	s.ObserveHistogram(MetricCapabilityDuration, d.Seconds(), prometheus.Labels{"capability": id})
	if err != nil {
		s.IncCounter(MetricCapabilityFailures, 1, prometheus.Labels{"capability": id})
	}
}

func (s *ScanMetrics) IssuesFound(severity string, n int) {
	if n <= 0 {
		return
	}
	s.IncCounter(MetricIssuesTotal, float64(n), prometheus.Labels{"severity": severity})
}

func (s *ScanMetrics) AssetsFound(source string, n int) {
	if n <= 0 {
		return
	}
	s.IncCounter(MetricReconAssets, float64(n), prometheus.Labels{"source": source})
}
