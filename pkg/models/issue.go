package models

import (
	"fmt"
	"strings"
)

type Issue struct {
	ID          string                 `json:"id" yaml:"id"`
	Title       string                 `json:"title" yaml:"title"`
	Description string                 `json:"description" yaml:"description"`
	Severity    Severity               `json:"severity" yaml:"severity"`
	CWE         string                 `json:"cwe,omitempty" yaml:"cwe,omitempty"`
	Location    Location               `json:"location" yaml:"location"`
	Remediation string                 `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	References  []string               `json:"references,omitempty" yaml:"references,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type Location struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
}

func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if i.Title == "" {
		return fmt.Errorf("issue title is required")
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", i.Severity)
	}
	return nil
}

func (i *Issue) AddReference(reference string) {
	for _, ref := range i.References {
		if ref == reference {
			return
		}
	}
	i.References = append(i.References, reference)
}

func (i *Issue) SetMetadata(key string, value interface{}) {
	if i.Metadata == nil {
		i.Metadata = make(map[string]interface{})
	}
	i.Metadata[key] = value
}

// CWELink is the MITRE page for the issue's CWE, or empty when none is set.
func (i Issue) CWELink() string {
	id := strings.TrimPrefix(strings.ToUpper(i.CWE), "CWE-")
	if id == "" {
		return ""
	}
	return fmt.Sprintf("https://cwe.mitre.org/data/definitions/%s.html", id)
}
