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
)

const DefaultShodanURL = "https://api.shodan.io"

type ShodanService struct {
	Name    string `json:"name,omitempty"`
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// ShodanHost groups the banners Shodan holds for one IP.
type ShodanHost struct {
	IP       string
	Ports    []int
	Services map[int]ShodanService
}

type shodanMatch struct {
	IPStr     string `json:"ip_str"`
	Port      int    `json:"port"`
	Ports     []int  `json:"ports"`
	Product   string `json:"product"`
	Version   string `json:"version"`
	Transport string `json:"transport"`
	Shodan    struct {
		Module string `json:"module"`
	} `json:"_shodan"`
}

type shodanSearchResponse struct {
	Matches []shodanMatch `json:"matches"`
	Total   int           `json:"total"`
}

type ShodanSource struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewShodanSource(baseURL, apiKey string, client *httpclient.Client) *ShodanSource {
	if baseURL == "" {
		baseURL = DefaultShodanURL
	}
	return &ShodanSource{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (s *ShodanSource) Name() string { return "shodan" }

func (s *ShodanSource) Enabled() bool { return s.apiKey != "" }

// Search returns hosts in first-seen order.
func (s *ShodanSource) Search(ctx context.Context, domain string) ([]ShodanHost, error) {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("query", "hostname:"+domain)

	resp, err := s.client.Get(ctx, s.baseURL+"/shodan/host/search?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shodan returned status %d", resp.StatusCode)
	}

	var body shodanSearchResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		return nil, fmt.Errorf("decode shodan response: %w", err)
	}

	index := make(map[string]int)
	var hosts []ShodanHost
	for _, m := range body.Matches {
		if m.IPStr == "" {
			continue
		}
		i, ok := index[m.IPStr]
		if !ok {
			i = len(hosts)
			index[m.IPStr] = i
			hosts = append(hosts, ShodanHost{IP: m.IPStr, Services: make(map[int]ShodanService)})
		}
		h := &hosts[i]

		ports := m.Ports
		if len(ports) == 0 && m.Port > 0 {
			ports = []int{m.Port}
		}
		for _, p := range ports {
			if !containsInt(h.Ports, p) {
				h.Ports = append(h.Ports, p)
			}
		}
		if m.Port > 0 {
			h.Services[m.Port] = ShodanService{Name: m.Shodan.Module, Product: m.Product, Version: m.Version}
		}
	}
	for i := range hosts {
		sort.Ints(hosts[i].Ports)
	}
	return hosts, nil
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
