package passive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"github.com/sirupsen/logrus"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const DefaultSecurityTrailsURL = "https://api.securitytrails.com/v1"

// SecurityTrailsSource lists the subdomain labels SecurityTrails knows
// for a domain. The API key travels in the APIKEY header.
type SecurityTrailsSource struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewSecurityTrailsSource(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) (*SecurityTrailsSource, error) {
	if baseURL == "" {
		baseURL = DefaultSecurityTrailsURL
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout: timeout,
		Headers: map[string]string{
			"Accept": "application/json",
			"APIKEY": apiKey,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return &SecurityTrailsSource{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}, nil
}

func (s *SecurityTrailsSource) Name() string { return "securitytrails" }

func (s *SecurityTrailsSource) Enabled() bool { return s.apiKey != "" }

func (s *SecurityTrailsSource) Subdomains(ctx context.Context, domain string) ([]string, error) {
	u := fmt.Sprintf("%s/domain/%s/subdomains", s.baseURL, url.PathEscape(domain))
	resp, err := s.client.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("securitytrails: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("securitytrails: status %d: %s", resp.StatusCode, utils.Truncate(strings.TrimSpace(resp.Body), 200))
	}

	var out struct {
		Subdomains []string `json:"subdomains"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		return nil, fmt.Errorf("securitytrails: parse: %w", err)
	}

	seen := make(map[string]struct{}, len(out.Subdomains))
	for _, label := range out.Subdomains {
		label = strings.ToLower(strings.Trim(label, "."))
		if label == "" {
			continue
		}
		name := label + "." + domain
		if utils.IsSubdomainOf(name, domain) {
			seen[utils.NormalizeDomain(name)] = struct{}{}
		}
	}
	res := make([]string, 0, len(seen))
	for name := range seen {
		res = append(res, name)
	}
	sort.Strings(res)
	return res, nil
}
