package passive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const DefaultCrtShURL = "https://crt.sh"

type crtShEntry struct {
	NameValue  string `json:"name_value"`
	CommonName string `json:"common_name"`
}

// CrtShSource lists certificate names for a domain from the crt.sh JSON API.
type CrtShSource struct {
	baseURL string
	client  *httpclient.Client
}

func NewCrtShSource(baseURL string, client *httpclient.Client) *CrtShSource {
	if baseURL == "" {
		baseURL = DefaultCrtShURL
	}
	return &CrtShSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *CrtShSource) Name() string { return "crtsh" }

// Subdomains returns sorted, lowercased names strictly below domain.
func (c *CrtShSource) Subdomains(ctx context.Context, domain string) ([]string, error) {
	q := url.Values{}
	q.Set("q", "%."+domain)
	q.Set("output", "json")

	resp, err := c.client.Get(ctx, c.baseURL+"/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned status %d", resp.StatusCode)
	}

	var entries []crtShEntry
	if err := json.Unmarshal([]byte(resp.Body), &entries); err != nil {
		return nil, fmt.Errorf("decode crt.sh response: %w", err)
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		// name_value holds one SAN per line
		for _, name := range strings.Split(e.NameValue, "\n") {
			if !utils.IsSubdomainOf(name, domain) {
				continue
			}
			seen[utils.NormalizeDomain(name)] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
