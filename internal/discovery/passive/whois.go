package passive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
)

const DefaultWhoisURL = "https://api.whoisfreaks.com"

type WhoisSource struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewWhoisSource(baseURL, apiKey string, client *httpclient.Client) *WhoisSource {
	if baseURL == "" {
		baseURL = DefaultWhoisURL
	}
	return &WhoisSource{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (w *WhoisSource) Name() string { return "whois" }

func (w *WhoisSource) Enabled() bool { return w.apiKey != "" }

// Lookup returns the live WHOIS record as decoded JSON, or nil when the
// service has nothing for domain.
func (w *WhoisSource) Lookup(ctx context.Context, domain string) (map[string]interface{}, error) {
	q := url.Values{}
	q.Set("apiKey", w.apiKey)
	q.Set("domainName", domain)
	q.Set("type", "live")

	resp, err := w.client.Get(ctx, w.baseURL+"/v1.0/whois?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(resp.Body) == "" {
		return nil, nil
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Body), &record); err != nil {
		return nil, fmt.Errorf("decode whois response: %w", err)
	}
	return record, nil
}
