package passive

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	ctX509 "github.com/google/certificate-transparency-go/x509"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const DefaultCTMaxEntries = 1000

// CTLogSource scans the newest entries of each configured CT log for
// certificates naming subdomains of the target.
type CTLogSource struct {
	clients    map[string]*client.LogClient
	maxEntries int64
	logger     *logrus.Logger
}

func NewCTLogSource(logURLs []string, maxEntries int, httpClient *http.Client, userAgent string, logger *logrus.Logger) (*CTLogSource, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCTMaxEntries
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	src := &CTLogSource{
		clients:    make(map[string]*client.LogClient, len(logURLs)),
		maxEntries: int64(maxEntries),
		logger:     logger,
	}
	for _, u := range logURLs {
		lc, err := client.New(u, httpClient, jsonclient.Options{UserAgent: userAgent})
		if err != nil {
			return nil, fmt.Errorf("failed to create CT log client for %s: %w", u, err)
		}
		src.clients[u] = lc
	}
	return src, nil
}

func (s *CTLogSource) Name() string { return "ctlog" }

func (s *CTLogSource) Enabled() bool { return len(s.clients) > 0 }

// Subdomains queries every log concurrently. A log that fails is skipped;
// an error is returned only when every log failed.
func (s *CTLogSource) Subdomains(ctx context.Context, domain string) ([]string, error) {
	var (
		mu       sync.Mutex
		seen     = make(map[string]struct{})
		failures int
		lastErr  error
		g        errgroup.Group
	)

	for logURL, lc := range s.clients {
		logURL, lc := logURL, lc
		g.Go(func() error {
			names, err := s.fromLog(ctx, lc, domain)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warnf("CT log %s: %v", logURL, err)
				failures++
				lastErr = err
				return nil
			}
			for _, n := range names {
				seen[n] = struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures > 0 && failures == len(s.clients) {
		return nil, lastErr
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *CTLogSource) fromLog(ctx context.Context, lc *client.LogClient, domain string) ([]string, error) {
	sth, err := lc.GetSTH(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get STH: %w", err)
	}
	if sth.TreeSize == 0 {
		return nil, nil
	}

	end := int64(sth.TreeSize) - 1
	start := end - s.maxEntries + 1
	if start < 0 {
		start = 0
	}

	entries, err := lc.GetEntries(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries %d-%d: %w", start, end, err)
	}

	var out []string
	for _, e := range entries {
		names, err := namesFromEntry(e)
		if err != nil {
			s.logger.Debugf("Skipping CT entry %d: %v", e.Index, err)
			continue
		}
		out = append(out, filterSubdomains(names, domain)...)
	}
	return out, nil
}

func namesFromEntry(entry ct.LogEntry) ([]string, error) {
	switch {
	case entry.X509Cert != nil:
		return certNames(entry.X509Cert), nil
	case entry.Precert != nil:
		pre, err := entry.Leaf.Precertificate()
		if err != nil {
			return nil, fmt.Errorf("failed to parse precertificate: %w", err)
		}
		return certNames(pre), nil
	default:
		return nil, nil
	}
}

func certNames(cert *ctX509.Certificate) []string {
	if cert == nil {
		return nil
	}
	var out []string
	if cn := strings.TrimSpace(cert.Subject.CommonName); cn != "" {
		out = append(out, cn)
	}
	for _, name := range cert.DNSNames {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func filterSubdomains(names []string, domain string) []string {
	var out []string
	for _, n := range names {
		if utils.IsSubdomainOf(n, domain) {
			out = append(out, utils.NormalizeDomain(n))
		}
	}
	return out
}
