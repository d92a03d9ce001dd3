package reporting

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"github.com/bl4ck0w1/easmscan/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleResult() *models.ScanResult {
	issues := []models.Issue{
		{ID: "i-info", Title: "Banner", Description: "server banner", Severity: models.SeverityInfo},
		{
			ID: "i-crit", Title: "Encoded web.config", Description: "traversal", Severity: models.SeverityCritical,
			CWE: "CWE-22", Location: models.Location{URL: "https://example.com/%2e/web.config"},
			Remediation: "Normalise paths", References: []string{"https://cwe.mitre.org/data/definitions/22.html"},
		},
		{
			ID: "i-high", Title: "web.config exposed", Description: "readable", Severity: models.SeverityHigh,
			CWE: "CWE-538", Location: models.Location{URL: "https://example.com/web.config"},
		},
		{
			ID: "i-high-2", Title: "web.config exposed", Description: "readable", Severity: models.SeverityHigh,
			CWE: "CWE-538", Location: models.Location{URL: "https://example.com/app/web.config"},
		},
	}
	return &models.ScanResult{
		ScanID:    "scan_20260101_120000_abcdef12",
		Target:    models.Target{URL: "https://example.com"},
		Issues:    issues,
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Summary:   models.Summary{TotalIssues: 4, CriticalCount: 1, HighCount: 2, InfoCount: 1},
		Metadata:  map[string]interface{}{"failedCapabilities": []string{"telerik-scanner"}},
	}
}

func newGenerator(t *testing.T, cfg models.ReportingConfig) *ReportGenerator {
	t.Helper()
	rg, err := NewReportGenerator(cfg, "1.2.3", quietLogger())
	require.NoError(t, err)
	return rg
}

func TestRiskScorer(t *testing.T) {
	rs := NewRiskScorer()
	scored := rs.ScoreIssues(sampleResult().Issues)
	require.Len(t, scored, 4)
	assert.Equal(t, "i-crit", scored[0].ID)
	assert.Equal(t, "i-high", scored[1].ID)
	assert.Equal(t, "i-high-2", scored[2].ID)
	assert.Equal(t, "i-info", scored[3].ID)
	assert.InDelta(t, 10.0, scored[0].RiskScore, 0.001)

	assert.Zero(t, rs.OverallRiskScore(nil))
	overall := rs.OverallRiskScore(scored)
	assert.Greater(t, overall, 7.0)
	assert.LessOrEqual(t, overall, 10.0)
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, RiskLevelCritical, RiskLevel(9.5))
	assert.Equal(t, RiskLevelHigh, RiskLevel(7))
	assert.Equal(t, RiskLevelMedium, RiskLevel(4.2))
	assert.Equal(t, RiskLevelLow, RiskLevel(1))
	assert.Equal(t, RiskLevelNone, RiskLevel(0))
}

func TestGenerateReport(t *testing.T) {
	rg := newGenerator(t, models.ReportingConfig{OutputDir: t.TempDir()})

	_, err := rg.GenerateReport(nil, nil)
	require.Error(t, err)

	discovery := &models.DiscoveryResult{
		ProviderName: "passive-recon",
		Assets:       []models.Asset{{Name: "example.com", Type: models.AssetWebsite}},
	}
	report, err := rg.GenerateReport(sampleResult(), discovery)
	require.NoError(t, err)

	assert.NotEmpty(t, report.Metadata.ReportID)
	assert.Equal(t, "https://example.com", report.Metadata.Target)
	assert.Equal(t, "1.2.3", report.Metadata.ToolVersion)
	assert.Equal(t, []string{"telerik-scanner"}, report.Metadata.FailedCapabilities)
	assert.Equal(t, 4, report.Summary.TotalIssues)
	assert.Equal(t, 1, report.Summary.TotalAssets)
	assert.NotEqual(t, RiskLevelNone, report.Summary.RiskLevel)

	require.Len(t, report.Recommendations, 2)
	crit := report.Recommendations[0]
	assert.Equal(t, models.SeverityCritical, crit.Severity)
	assert.Equal(t, 1, crit.Priority)
	assert.Equal(t, "rec_cwe-22", crit.ID)
	assert.Equal(t, []string{"https://cwe.mitre.org/data/definitions/22.html"}, crit.References)

	high := report.Recommendations[1]
	assert.Equal(t, "CWE-538", high.CWE)
	require.NotEmpty(t, high.References)
	assert.Equal(t, "https://cwe.mitre.org/data/definitions/538.html", high.References[0])
	assert.Equal(t, []string{"https://example.com/web.config", "https://example.com/app/web.config"}, high.Affected)

	rows := report.SeverityRows()
	require.Len(t, rows, 5)
	assert.Equal(t, SeverityRow{Severity: models.SeverityCritical, Count: 1}, rows[0])
	assert.Equal(t, SeverityRow{Severity: models.SeverityInfo, Count: 1}, rows[4])
}

func TestExportReport_AllFormats(t *testing.T) {
	dir := t.TempDir()
	rg := newGenerator(t, models.ReportingConfig{OutputDir: dir, Formats: []string{"json", "yaml", "txt"}})
	assert.Equal(t, []string{"json", "txt", "yaml"}, rg.SupportedFormats())

	paths, err := rg.GenerateAndExport(sampleResult(), nil)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for _, p := range paths {
		assert.True(t, strings.HasPrefix(filepath.Base(p), "easmscan_https___example.com_20260101_120000."), p)
	}

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	summary := decoded["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["criticalCount"])
	issues := decoded["issues"].([]interface{})
	assert.Equal(t, "i-crit", issues[0].(map[string]interface{})["id"])

	raw, err = os.ReadFile(paths[1])
	require.NoError(t, err)
	var y map[string]interface{}
	require.NoError(t, yaml.Unmarshal(raw, &y))
	assert.Contains(t, y, "metadata")

	raw, err = os.ReadFile(paths[2])
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "EASM SCAN REPORT\n================")
	assert.Contains(t, text, "Target:     https://example.com")
	assert.Contains(t, text, "1. [CRITICAL] Encoded web.config")
	assert.Contains(t, text, "CWE:         CWE-22 (https://cwe.mitre.org/data/definitions/22.html)")
	assert.Contains(t, text, "Failed capabilities: telerik-scanner")
	assert.Contains(t, text, "RECOMMENDATIONS")
	assert.NotContains(t, text, "DISCOVERED ASSETS")
}

func TestExportReport_TextWithoutIssues(t *testing.T) {
	rg := newGenerator(t, models.ReportingConfig{OutputDir: t.TempDir()})
	res := &models.ScanResult{ScanID: "s", Target: models.Target{Domain: "example.com"}, Issues: []models.Issue{}}
	discovery := &models.DiscoveryResult{
		ProviderName: "passive-recon",
		Assets:       []models.Asset{{Name: "www.example.com", Type: models.AssetWebsite}},
	}
	report, err := rg.GenerateReport(res, discovery)
	require.NoError(t, err)

	p, err := rg.ExportReport(report, "txt")
	require.NoError(t, err)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "No issues found.")
	assert.Contains(t, string(raw), "DISCOVERED ASSETS")
	assert.Contains(t, string(raw), "www.example.com")
}

func TestExportReport_UnsupportedFormat(t *testing.T) {
	_, err := NewReportGenerator(models.ReportingConfig{OutputDir: t.TempDir(), Formats: []string{"pdf", "json"}}, "1.2.3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported report format "pdf" (supported: json, txt, yaml)`)

	rg := newGenerator(t, models.ReportingConfig{OutputDir: t.TempDir()})
	report, err := rg.GenerateReport(sampleResult(), nil)
	require.NoError(t, err)
	_, err = rg.ExportReport(report, "pdf")
	assert.ErrorContains(t, err, "unsupported report format: pdf")
}

func TestNewReportGenerator_NormalizesFormats(t *testing.T) {
	dir := t.TempDir()
	rg := newGenerator(t, models.ReportingConfig{OutputDir: dir, Formats: []string{"JSON", " json ", "txt", ""}})

	paths, err := rg.GenerateAndExport(sampleResult(), nil)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, ".json", filepath.Ext(paths[0]))
	assert.Equal(t, ".txt", filepath.Ext(paths[1]))
}

func TestExportReport_Compressed(t *testing.T) {
	rg := newGenerator(t, models.ReportingConfig{OutputDir: t.TempDir(), Compress: true})
	report, err := rg.GenerateReport(sampleResult(), nil)
	require.NoError(t, err)

	p, err := rg.ExportReport(report, "json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".json.gz"))

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.True(t, json.Valid(plain))
}
