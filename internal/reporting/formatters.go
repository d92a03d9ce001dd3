package reporting

import (
	"encoding/json"
	"fmt"
	"gopkg.in/yaml.v3"
)

type Formatter interface {
	Format(report *Report) ([]byte, error)
	FileExtension() string
}

type JSONFormatter struct{}

func (JSONFormatter) Format(report *Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (JSONFormatter) FileExtension() string { return "json" }

type YAMLFormatter struct{}

func (YAMLFormatter) Format(report *Report) ([]byte, error) {
	return yaml.Marshal(report)
}

func (YAMLFormatter) FileExtension() string { return "yaml" }

const textTemplateName = "report.txt"

const textTemplate = `{{ heading "easm scan report" }}
Report ID:  {{ .Metadata.ReportID }}
Scan ID:    {{ .Metadata.ScanID }}
Target:     {{ .Metadata.Target }}
Generated:  {{ .GeneratedAt.UTC.Format "2006-01-02 15:04:05 MST" }}
Duration:   {{ .Metadata.Duration }}
Risk:       {{ printf "%.2f" .Summary.RiskScore }} ({{ label .Summary.RiskLevel }})

{{ heading "summary" }}
Total issues: {{ .Summary.TotalIssues }}
{{- range .SeverityRows }}
  {{ printf "%-10s" (label .Severity) }}{{ .Count }}
{{- end }}
{{- if .Metadata.FailedCapabilities }}
Failed capabilities: {{ join ", " .Metadata.FailedCapabilities }}
{{- end }}

{{ heading "issues" }}
{{- range $i, $is := .Issues }}

{{ add1 $i }}. [{{ upperLabel $is.Severity }}] {{ $is.Title }}
   ID:          {{ $is.ID }}
   Score:       {{ printf "%.2f" $is.RiskScore }}
{{- if $is.Location.URL }}
   Location:    {{ $is.Location.URL }}
{{- end }}
{{- if $is.CWE }}
   CWE:         {{ $is.CWE }} ({{ $is.CWELink }})
{{- end }}
   Description: {{ $is.Description }}
{{- if $is.Remediation }}
   Remediation: {{ $is.Remediation }}
{{- end }}
{{- range $is.References }}
   Reference:   {{ . }}
{{- end }}
{{- else }}
No issues found.
{{- end }}
{{- if .Recommendations }}

{{ heading "recommendations" }}
{{- range .Recommendations }}

- {{ .Title }} ({{ label .Severity }})
  Affected:    {{ join ", " .Affected }}
{{- if .Remediation }}
  Remediation: {{ .Remediation }}
{{- end }}
{{- end }}
{{- end }}
{{- with .Discovery }}

{{ heading "discovered assets" }}
Provider: {{ .ProviderName }}
{{- range .Assets }}
  {{ printf "%-14s" (toString .Type) }}{{ .Name }}
{{- end }}
{{- end }}
`

// TextFormatter renders a plain-text report through the template manager.
type TextFormatter struct {
	templates *TemplateManager
}

func NewTextFormatter(tm *TemplateManager) (*TextFormatter, error) {
	if err := tm.Register(textTemplateName, textTemplate); err != nil {
		return nil, fmt.Errorf("register text template: %w", err)
	}
	return &TextFormatter{templates: tm}, nil
}

func (t *TextFormatter) Format(report *Report) ([]byte, error) {
	return t.templates.Render(textTemplateName, report)
}

func (t *TextFormatter) FileExtension() string { return "txt" }
