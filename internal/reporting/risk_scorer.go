package reporting

import (
	"math"
	"sort"
	"github.com/bl4ck0w1/easmscan/pkg/models"
)

const (
	RiskLevelCritical = "critical"
	RiskLevelHigh     = "high"
	RiskLevelMedium   = "medium"
	RiskLevelLow      = "low"
	RiskLevelNone     = "none"
)

type ScoredIssue struct {
	models.Issue `yaml:",inline"`
	RiskScore    float64 `json:"riskScore" yaml:"risk_score"`
}

type RiskScorer struct {
	severityWeights map[models.Severity]float64
}

func NewRiskScorer() *RiskScorer {
	return NewRiskScorerWithWeights(nil)
}

func NewRiskScorerWithWeights(override map[models.Severity]float64) *RiskScorer {
	base := map[models.Severity]float64{
		models.SeverityCritical: 10.0,
		models.SeverityHigh:     7.5,
		models.SeverityMedium:   5.0,
		models.SeverityLow:      2.5,
		models.SeverityInfo:     1.0,
	}
	for k, v := range override {
		base[k] = v
	}
	return &RiskScorer{severityWeights: base}
}

// ScoreIssues returns the issues ordered by descending score. Ties keep
// their input order.
func (rs *RiskScorer) ScoreIssues(issues []models.Issue) []ScoredIssue {
	scored := make([]ScoredIssue, len(issues))
	for i, is := range issues {
		scored[i] = ScoredIssue{Issue: is, RiskScore: rs.IssueRiskScore(is)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].RiskScore > scored[j].RiskScore })
	return scored
}

func (rs *RiskScorer) IssueRiskScore(issue models.Issue) float64 {
	base := rs.severityWeights[issue.Severity]
	if base == 0 {
		base = 1.0
	}
	// issues tied to a CWE weigh slightly more
	if issue.CWE != "" {
		base *= 1.1
	}
	return math.Min(base, 10)
}

// OverallRiskScore is 0.6 of the worst issue score plus 0.4 of the mean,
// capped at 10.
func (rs *RiskScorer) OverallRiskScore(scored []ScoredIssue) float64 {
	if len(scored) == 0 {
		return 0
	}
	var total, worst float64
	for _, s := range scored {
		total += s.RiskScore
		worst = math.Max(worst, s.RiskScore)
	}
	avg := total / float64(len(scored))
	score := 0.6*worst + 0.4*avg
	if score > 10 {
		score = 10
	}
	return math.Round(score*100) / 100
}

func RiskLevel(score float64) string {
	switch {
	case score >= 9.0:
		return RiskLevelCritical
	case score >= 7.0:
		return RiskLevelHigh
	case score >= 4.0:
		return RiskLevelMedium
	case score > 0:
		return RiskLevelLow
	default:
		return RiskLevelNone
	}
}
