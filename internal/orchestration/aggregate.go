package orchestration

import (
	"time"

	"github.com/bl4ck0w1/easmscan/pkg/models"
)

// Outcome is what one capability produced within a scan.
type Outcome struct {
	CapabilityID string
	Issues       []models.Issue
	Err          error
	Duration     time.Duration
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Aggregate concatenates the issues of successful outcomes in the order given.
// Issues with an unknown severity are dropped so the summary stays balanced.
func Aggregate(outcomes []Outcome) ([]models.Issue, models.Summary) {
	issues := make([]models.Issue, 0)
	for _, o := range outcomes {
		if o.Failed() {
			continue
		}
		for _, issue := range o.Issues {
			if !issue.Severity.IsValid() {
				continue
			}
			issues = append(issues, issue)
		}
	}
	return issues, Summarize(issues)
}

func Summarize(issues []models.Issue) models.Summary {
	return models.Summary{
		TotalIssues:   len(issues),
		CriticalCount: countIssuesBySeverity(issues, models.SeverityCritical),
		HighCount:     countIssuesBySeverity(issues, models.SeverityHigh),
		MediumCount:   countIssuesBySeverity(issues, models.SeverityMedium),
		LowCount:      countIssuesBySeverity(issues, models.SeverityLow),
		InfoCount:     countIssuesBySeverity(issues, models.SeverityInfo),
	}
}

func countIssuesBySeverity(issues []models.Issue, severity models.Severity) int {
	count := 0
	for _, issue := range issues {
		if issue.Severity == severity {
			count++
		}
	}
	return count
}
