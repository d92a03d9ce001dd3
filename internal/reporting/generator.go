package reporting

import (
	"bytes"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

type Report struct {
	Metadata        ReportMetadata          `json:"metadata" yaml:"metadata"`
	Summary         ReportSummary           `json:"summary" yaml:"summary"`
	Issues          []ScoredIssue           `json:"issues" yaml:"issues"`
	Recommendations []Recommendation        `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Discovery       *models.DiscoveryResult `json:"discovery,omitempty" yaml:"discovery,omitempty"`
	GeneratedAt     time.Time               `json:"generatedAt" yaml:"generated_at"`
}

type ReportMetadata struct {
	ReportID           string    `json:"reportId" yaml:"report_id"`
	ScanID             string    `json:"scanId" yaml:"scan_id"`
	Target             string    `json:"target" yaml:"target"`
	GeneratedBy        string    `json:"generatedBy" yaml:"generated_by"`
	ToolVersion        string    `json:"toolVersion" yaml:"tool_version"`
	Duration           string    `json:"duration" yaml:"duration"`
	Timestamp          time.Time `json:"timestamp" yaml:"timestamp"`
	FailedCapabilities []string  `json:"failedCapabilities,omitempty" yaml:"failed_capabilities,omitempty"`
}

type ReportSummary struct {
	models.Summary `yaml:",inline"`
	TotalAssets    int     `json:"totalAssets,omitempty" yaml:"total_assets,omitempty"`
	RiskScore      float64 `json:"riskScore" yaml:"risk_score"`
	RiskLevel      string  `json:"riskLevel" yaml:"risk_level"`
}

type Recommendation struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Severity    models.Severity `json:"severity" yaml:"severity"`
	CWE         string          `json:"cwe,omitempty" yaml:"cwe,omitempty"`
	Affected    []string        `json:"affected" yaml:"affected"`
	Remediation string          `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	References  []string        `json:"references,omitempty" yaml:"references,omitempty"`
	Priority    int             `json:"priority" yaml:"priority"`
}

type SeverityRow struct {
	Severity models.Severity
	Count    int
}

// SeverityRows lists every severity bucket, most severe first.
func (r *Report) SeverityRows() []SeverityRow {
	rows := make([]SeverityRow, 0, len(models.Severities()))
	for _, sev := range models.Severities() {
		rows = append(rows, SeverityRow{Severity: sev, Count: r.Summary.Count(sev)})
	}
	return rows
}

type ReportGenerator struct {
	formatters  map[string]Formatter
	logger      *logrus.Logger
	mu          sync.RWMutex
	config      models.ReportingConfig
	toolVersion string
	riskScorer  *RiskScorer
}

func NewReportGenerator(config models.ReportingConfig, toolVersion string, logger *logrus.Logger) (*ReportGenerator, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if config.OutputDir == "" {
		config.OutputDir = "./reports"
	}

	rg := &ReportGenerator{
		formatters:  make(map[string]Formatter),
		logger:      logger,
		config:      config,
		toolVersion: toolVersion,
		riskScorer:  NewRiskScorer(),
	}

	text, err := NewTextFormatter(NewTemplateManager())
	if err != nil {
		return nil, err
	}
	rg.RegisterFormatter("txt", text)
	rg.RegisterFormatter("json", JSONFormatter{})
	rg.RegisterFormatter("yaml", YAMLFormatter{})

	formats, err := rg.resolveFormats(config.Formats)
	if err != nil {
		return nil, err
	}
	rg.config.Formats = formats

	return rg, nil
}

func (rg *ReportGenerator) RegisterFormatter(name string, formatter Formatter) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.formatters[name] = formatter
}

func (rg *ReportGenerator) SupportedFormats() []string {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	names := make([]string, 0, len(rg.formatters))
	for k := range rg.formatters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// resolveFormats lowercases and dedupes the requested formats and rejects any
// that has no registered formatter.
func (rg *ReportGenerator) resolveFormats(requested []string) ([]string, error) {
	formats := make([]string, 0, len(requested))
	for _, f := range requested {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			formats = append(formats, f)
		}
	}
	formats = utils.RemoveDuplicates(formats)

	supported := rg.SupportedFormats()
	for _, f := range formats {
		if !slices.Contains(supported, f) {
			return nil, fmt.Errorf("unsupported report format %q (supported: %s)", f, strings.Join(supported, ", "))
		}
	}
	return formats, nil
}

// GenerateReport scores the result's issues and derives recommendations.
// discovery may be nil.
func (rg *ReportGenerator) GenerateReport(result *models.ScanResult, discovery *models.DiscoveryResult) (*Report, error) {
	if result == nil {
		return nil, fmt.Errorf("scan result is required")
	}

	scored := rg.riskScorer.ScoreIssues(result.Issues)
	score := rg.riskScorer.OverallRiskScore(scored)

	report := &Report{
		Metadata: ReportMetadata{
			ReportID:           uuid.NewString(),
			ScanID:             result.ScanID,
			Target:             targetLabel(result.Target),
			GeneratedBy:        "easmscan",
			ToolVersion:        rg.toolVersion,
			Duration:           utils.HumanizeDuration(result.Duration),
			Timestamp:          result.Timestamp,
			FailedCapabilities: failedCapabilities(result.Metadata),
		},
		Summary: ReportSummary{
			Summary:   result.Summary,
			RiskScore: score,
			RiskLevel: RiskLevel(score),
		},
		Issues:          scored,
		Recommendations: generateRecommendations(scored),
		Discovery:       discovery,
		GeneratedAt:     time.Now(),
	}
	if discovery != nil {
		report.Summary.TotalAssets = len(discovery.Assets)
	}
	return report, nil
}

// generateRecommendations groups critical and high issues by CWE, or by
// title when no CWE is set.
func generateRecommendations(scored []ScoredIssue) []Recommendation {
	index := make(map[string]int)
	var recs []Recommendation

	for _, is := range scored {
		if is.Severity != models.SeverityCritical && is.Severity != models.SeverityHigh {
			continue
		}
		key := is.CWE
		if key == "" {
			key = is.Title
		}

		i, ok := index[key]
		if !ok {
			i = len(recs)
			index[key] = i
			recs = append(recs, Recommendation{
				ID:          "rec_" + sanitizeFilename(strings.ToLower(key)),
				Title:       is.Title,
				Severity:    is.Severity,
				CWE:         is.CWE,
				Remediation: is.Remediation,
				Priority:    priorityFor(is.Severity),
			})
		}
		rec := &recs[i]
		if priorityFor(is.Severity) < rec.Priority {
			rec.Severity = is.Severity
			rec.Priority = priorityFor(is.Severity)
		}
		if loc := is.Location.URL; loc != "" && !contains(rec.Affected, loc) {
			rec.Affected = append(rec.Affected, loc)
		}
		for _, ref := range append([]string{is.CWELink()}, is.References...) {
			if ref != "" && !contains(rec.References, ref) {
				rec.References = append(rec.References, ref)
			}
		}
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority < recs[j].Priority })
	return recs
}

func priorityFor(sev models.Severity) int {
	if sev == models.SeverityCritical {
		return 1
	}
	return 2
}

// ExportReport writes the report in the given format and returns the path.
func (rg *ReportGenerator) ExportReport(report *Report, format string) (string, error) {
	rg.mu.RLock()
	formatter, exists := rg.formatters[format]
	cfg := rg.config
	rg.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("unsupported report format: %s", format)
	}

	data, err := formatter.Format(report)
	if err != nil {
		return "", fmt.Errorf("failed to format report: %w", err)
	}

	outPath := filepath.Join(cfg.OutputDir, generateFilename(report.Metadata, formatter.FileExtension()))
	if cfg.Compress {
		data, err = compress(data, filepath.Base(outPath))
		if err != nil {
			return "", fmt.Errorf("failed to compress report: %w", err)
		}
		outPath += ".gz"
	}

	if err := utils.EnsureDir(cfg.OutputDir); err != nil {
		return "", fmt.Errorf("failed to ensure output dir: %w", err)
	}
	if err := utils.SafeWriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	rg.logger.Infof("Report exported to %s (%s)", outPath, humanize.Bytes(uint64(len(data))))
	return outPath, nil
}

// GenerateAndExport writes one file per configured format. Formats that
// fail are logged and skipped; the error reports the first failure.
func (rg *ReportGenerator) GenerateAndExport(result *models.ScanResult, discovery *models.DiscoveryResult) ([]string, error) {
	report, err := rg.GenerateReport(result, discovery)
	if err != nil {
		return nil, err
	}

	rg.mu.RLock()
	formats := append([]string(nil), rg.config.Formats...)
	rg.mu.RUnlock()
	if len(formats) == 0 {
		formats = []string{"json"}
	}

	var paths []string
	var firstErr error
	for _, format := range formats {
		p, err := rg.ExportReport(report, format)
		if err != nil {
			rg.logger.Warnf("Failed to export %s report: %v", format, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		paths = append(paths, p)
	}
	return paths, firstErr
}

func generateFilename(metadata ReportMetadata, ext string) string {
	ts := metadata.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	target := metadata.Target
	if target == "" {
		target = "unknown"
	}
	return fmt.Sprintf("easmscan_%s_%s.%s", sanitizeFilename(target), ts.Format("20060102_150405"), ext)
}

func compress(data []byte, name string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = name
	gw.ModTime = time.Now()
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func targetLabel(t models.Target) string {
	switch {
	case t.URL != "":
		return t.URL
	case t.Domain != "":
		return t.Domain
	case t.IP != "":
		return t.IP
	default:
		return t.AssetID
	}
}

func failedCapabilities(meta map[string]interface{}) []string {
	switch v := meta["failedCapabilities"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	default:
		return nil
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func sanitizeFilename(s string) string {
	var out []rune
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
