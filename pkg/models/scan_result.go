package models

import (
	"encoding/json"
	"time"
)

// Summary invariant: the bucket counts add up to TotalIssues.
type Summary struct {
	TotalIssues   int `json:"totalIssues" yaml:"total_issues"`
	CriticalCount int `json:"criticalCount" yaml:"critical_count"`
	HighCount     int `json:"highCount" yaml:"high_count"`
	MediumCount   int `json:"mediumCount" yaml:"medium_count"`
	LowCount      int `json:"lowCount" yaml:"low_count"`
	InfoCount     int `json:"infoCount" yaml:"info_count"`
}

func (s Summary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.CriticalCount
	case SeverityHigh:
		return s.HighCount
	case SeverityMedium:
		return s.MediumCount
	case SeverityLow:
		return s.LowCount
	case SeverityInfo:
		return s.InfoCount
	}
	return 0
}

func (s Summary) BucketTotal() int {
	return s.CriticalCount + s.HighCount + s.MediumCount + s.LowCount + s.InfoCount
}

type ScanResult struct {
	ScanID    string                 `json:"scanId" yaml:"scan_id"`
	Target    Target                 `json:"target" yaml:"target"`
	Issues    []Issue                `json:"issues" yaml:"issues"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration          `json:"-" yaml:"scan_duration"`
	Summary   Summary                `json:"summary" yaml:"summary"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// scanResultJSON carries the duration as whole milliseconds under scanDuration.
type scanResultJSON struct {
	ScanID       string                 `json:"scanId"`
	Target       Target                 `json:"target"`
	Issues       []Issue                `json:"issues"`
	Timestamp    time.Time              `json:"timestamp"`
	ScanDuration int64                  `json:"scanDuration"`
	Summary      Summary                `json:"summary"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (r ScanResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(scanResultJSON{
		ScanID:       r.ScanID,
		Target:       r.Target,
		Issues:       r.Issues,
		Timestamp:    r.Timestamp,
		ScanDuration: r.Duration.Milliseconds(),
		Summary:      r.Summary,
		Metadata:     r.Metadata,
	})
}

func (r *ScanResult) UnmarshalJSON(data []byte) error {
	var w scanResultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ScanResult{
		ScanID:    w.ScanID,
		Target:    w.Target,
		Issues:    w.Issues,
		Timestamp: w.Timestamp,
		Duration:  time.Duration(w.ScanDuration) * time.Millisecond,
		Summary:   w.Summary,
		Metadata:  w.Metadata,
	}
	return nil
}
