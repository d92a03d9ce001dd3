package models

import (
	"fmt"
	"strings"
	"time"
)

// Target fields are independent hints; any combination may be set.
type Target struct {
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	IP      string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Domain  string `json:"domain,omitempty" yaml:"domain,omitempty"`
	AssetID string `json:"assetId,omitempty" yaml:"asset_id,omitempty"`
}

func (t Target) IsEmpty() bool {
	return t.URL == "" && t.IP == "" && t.Domain == "" && t.AssetID == ""
}

func (t Target) Validate() error {
	if t.IsEmpty() {
		return fmt.Errorf("target requires at least one of url, ip, domain or assetId")
	}
	return nil
}

func (t Target) String() string {
	parts := make([]string, 0, 4)
	if t.URL != "" {
		parts = append(parts, "url="+t.URL)
	}
	if t.Domain != "" {
		parts = append(parts, "domain="+t.Domain)
	}
	if t.IP != "" {
		parts = append(parts, "ip="+t.IP)
	}
	if t.AssetID != "" {
		parts = append(parts, "asset="+t.AssetID)
	}
	return strings.Join(parts, " ")
}

// Options is consumed by capabilities. The orchestrator passes it through untouched.
type Options struct {
	Timeout         time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Depth           int               `json:"depth,omitempty" yaml:"depth,omitempty"`
	Concurrency     int               `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	UserAgent       string            `json:"userAgent,omitempty" yaml:"user_agent,omitempty"`
	FollowRedirects *bool             `json:"followRedirects,omitempty" yaml:"follow_redirects,omitempty"`
	Cookies         map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Proxy           string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

func (o Options) TimeoutOr(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return def
}

func (o Options) Redirects() bool {
	return o.FollowRedirects != nil && *o.FollowRedirects
}

func Bool(b bool) *bool { return &b }
