package passive

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

var DefaultNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

type DNSRecord struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	TTL   uint32 `json:"ttl"`
}

// DNSResolver asks the configured nameservers for A and AAAA records.
type DNSResolver struct {
	servers   []string
	udpClient *mdns.Client
	tcpClient *mdns.Client
	logger    *logrus.Logger

	mu          sync.Mutex
	rotateIndex int
}

func NewDNSResolver(servers []string, timeout time.Duration, logger *logrus.Logger) *DNSResolver {
	if logger == nil {
		logger = logrus.New()
	}
	if len(servers) == 0 {
		servers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &DNSResolver{
		servers: normalized,
		udpClient: &mdns.Client{
			Net:     "udp",
			Timeout: timeout,
			UDPSize: 1232,
		},
		tcpClient: &mdns.Client{
			Net:     "tcp",
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (r *DNSResolver) Name() string { return "dns" }

// Lookup returns A records followed by AAAA records. A failure of one type
// does not hide the other; an error comes back only when both fail.
func (r *DNSResolver) Lookup(ctx context.Context, domain string) ([]DNSRecord, error) {
	var out []DNSRecord
	var errs []string
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		recs, err := r.query(ctx, domain, qtype)
		if err != nil {
			r.logger.Debugf("DNS %s lookup for %s failed: %v", mdns.TypeToString[qtype], domain, err)
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, recs...)
	}
	if len(errs) == 2 {
		return nil, fmt.Errorf("dns lookup for %s failed: %s", domain, strings.Join(errs, "; "))
	}
	return out, nil
}

func (r *DNSResolver) query(ctx context.Context, domain string, qtype uint16) ([]DNSRecord, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	server := r.selectServer()
	resp, _, err := r.udpClient.ExchangeContext(ctx, msg, server)
	if err == nil && resp != nil && resp.Truncated {
		resp, _, err = r.tcpClient.ExchangeContext(ctx, msg, server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", server, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("nil DNS response from %s", server)
	}
	if resp.Rcode == mdns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != mdns.RcodeSuccess {
		return nil, fmt.Errorf("DNS error: %s", mdns.RcodeToString[resp.Rcode])
	}

	var out []DNSRecord
	for _, rr := range resp.Answer {
		switch rr := rr.(type) {
		case *mdns.A:
			out = append(out, DNSRecord{Type: "A", Value: rr.A.String(), TTL: rr.Hdr.Ttl})
		case *mdns.AAAA:
			out = append(out, DNSRecord{Type: "AAAA", Value: rr.AAAA.String(), TTL: rr.Hdr.Ttl})
		}
	}
	return out, nil
}

func (r *DNSResolver) selectServer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	server := r.servers[r.rotateIndex%len(r.servers)]
	r.rotateIndex = (r.rotateIndex + 1) % len(r.servers)
	return server
}
