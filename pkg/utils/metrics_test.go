package utils

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanMetrics_Exposed(t *testing.T) {
	t.Parallel()

	m, err := NewScanMetrics(nil)
	require.NoError(t, err)

	m.ScanStarted()
	m.AdmissionDenied()
	m.CapabilityFinished("web-config-scanner", time.Second, errors.New("x"))
	m.IssuesFound("high", 2)
	m.IssuesFound("low", 0)
	m.AssetsFound("crtsh", 3)
	m.ScanFinished("completed", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `easmscan_scans_total{status="completed"} 1`)
	assert.Contains(t, out, `easmscan_capability_failures_total{capability="web-config-scanner"} 1`)
	assert.Contains(t, out, `easmscan_issues_total{severity="high"} 2`)
	assert.Contains(t, out, `easmscan_recon_assets_total{source="crtsh"} 3`)
	assert.Contains(t, out, "easmscan_active_scans 0")
	assert.Contains(t, out, "easmscan_admission_denied_total 1")
}

func TestNewScanMetrics_SharedCollector(t *testing.T) {
	t.Parallel()

	c := NewMetricsCollector(false)
	_, err := NewScanMetrics(c)
	require.NoError(t, err)
	_, err = NewScanMetrics(c)
	assert.NoError(t, err, "re-registering the same metric set is a no-op")
}
