package passive

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const ProviderName = "passive-recon"

const (
	sourceInitialInput = "initial-input"
	sourceCertificates = "certificate-transparency"
	sourceCTLog        = "ct-log"
	sourceTrails       = "securitytrails"
	sourceDNS          = "dns-resolution"
	sourceShodan       = "shodan"
)

// AssetRecorder receives per-source asset counts.
type AssetRecorder interface {
	AssetsFound(source string, n int)
}

type noopAssetRecorder struct{}

func (noopAssetRecorder) AssetsFound(string, int) {}

// Manager runs the passive sources for a domain and folds their answers
// into one asset graph rooted at the domain.
type Manager struct {
	crtsh    *CrtShSource
	ctlogs   *CTLogSource
	trails   *SecurityTrailsSource
	whois    *WhoisSource
	dns      *DNSResolver
	shodan   *ShodanSource
	limiters map[string]*rate.Limiter

	maxResults int
	recorder   AssetRecorder
	logger     *logrus.Logger
}

func NewManager(cfg models.ReconConfig, recorder AssetRecorder, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if recorder == nil {
		recorder = noopAssetRecorder{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:         timeout,
		Headers:         map[string]string{"Accept": "application/json"},
		FollowRedirects: true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create recon http client: %w", err)
	}

	ctSource, err := NewCTLogSource(cfg.CTLogURLs, cfg.CTMaxEntries, client.HTTPClient(), httpclient.DefaultUserAgent, logger)
	if err != nil {
		return nil, err
	}

	trails, err := NewSecurityTrailsSource(cfg.SecurityTrailsURL, cfg.SecurityTrails, timeout, logger)
	if err != nil {
		return nil, err
	}

	whoisKey := cfg.WhoisAPIKey
	if whoisKey == "" {
		whoisKey = cfg.SecurityTrails
	}

	m := &Manager{
		crtsh:      NewCrtShSource(cfg.CrtShURL, client),
		ctlogs:     ctSource,
		trails:     trails,
		whois:      NewWhoisSource(cfg.WhoisURL, whoisKey, client),
		dns:        NewDNSResolver(cfg.Nameservers, timeout, logger),
		shodan:     NewShodanSource(cfg.ShodanURL, cfg.ShodanAPIKey, client),
		limiters:   make(map[string]*rate.Limiter),
		maxResults: cfg.MaxResults,
		recorder:   recorder,
		logger:     logger,
	}

	perSecond := cfg.RateLimit
	if perSecond <= 0 {
		perSecond = 5
	}
	for _, name := range []string{m.crtsh.Name(), m.ctlogs.Name(), m.trails.Name(), m.whois.Name(), m.dns.Name(), m.shodan.Name()} {
		m.limiters[name] = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return m, nil
}

type sourceAnswers struct {
	certNames   []string
	ctNames     []string
	trailsNames []string
	whois       map[string]interface{}
	records     []DNSRecord
	hosts       []ShodanHost
}

// GatherDomainInformation never fails because of a single source; failed
// sources are logged and contribute nothing.
func (m *Manager) GatherDomainInformation(ctx context.Context, domain string) (*models.DiscoveryResult, error) {
	domain = utils.NormalizeDomain(domain)
	if !utils.IsValidDomain(domain) {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}

	m.logger.Infof("Starting passive reconnaissance for %s", domain)
	now := time.Now()
	answers := m.query(ctx, domain)

	result := &models.DiscoveryResult{
		Assets:        []models.Asset{},
		Relationships: []models.AssetRelationship{},
		ProviderName:  ProviderName,
		ScanTime:      now,
	}

	root := newAsset(domain, models.AssetWebsite, now, map[string]interface{}{"source": sourceInitialInput})
	if answers.whois != nil {
		root.Metadata["whois"] = answers.whois
	}
	result.Assets = append(result.Assets, root)
	rootID := root.ID

	// maxResults bounds the whole asset list, root included.
	full := func() bool {
		return m.maxResults > 0 && len(result.Assets) >= m.maxResults
	}

	addSubdomains := func(names []string, source string) int {
		added := 0
		for _, name := range names {
			if full() {
				break
			}
			if result.FindAsset(name) != nil {
				continue
			}
			a := newAsset(name, models.AssetWebsite, now, map[string]interface{}{"source": source})
			result.Assets = append(result.Assets, a)
			result.Relationships = append(result.Relationships, newRelationship(rootID, a.ID, models.RelParentDomain, now))
			added++
		}
		m.recorder.AssetsFound(source, added)
		return added
	}
	addSubdomains(answers.certNames, sourceCertificates)
	addSubdomains(answers.ctNames, sourceCTLog)
	addSubdomains(answers.trailsNames, sourceTrails)

	dnsAdded := 0
	for _, rec := range answers.records {
		if full() {
			break
		}
		if rec.Type != "A" && rec.Type != "AAAA" {
			continue
		}
		if result.FindAsset(rec.Value) != nil {
			continue
		}
		a := newAsset(rec.Value, models.AssetServer, now, map[string]interface{}{
			"source":     sourceDNS,
			"recordType": rec.Type,
		})
		result.Assets = append(result.Assets, a)
		result.Relationships = append(result.Relationships, newRelationship(rootID, a.ID, models.RelResolvesTo, now))
		dnsAdded++
	}
	m.recorder.AssetsFound(sourceDNS, dnsAdded)

	shodanAdded := 0
	for _, host := range answers.hosts {
		if full() {
			break
		}
		var hostID string
		if existing := result.FindAsset(host.IP); existing != nil {
			hostID = existing.ID
		} else {
			a := newAsset(host.IP, models.AssetServer, now, map[string]interface{}{"source": sourceShodan})
			result.Assets = append(result.Assets, a)
			result.Relationships = append(result.Relationships, newRelationship(rootID, a.ID, models.RelRelatesTo, now))
			hostID = a.ID
			shodanAdded++
		}

		for _, port := range host.Ports {
			if full() {
				break
			}
			meta := map[string]interface{}{
				"source": sourceShodan,
				"port":   port,
			}
			if svc, ok := host.Services[port]; ok {
				meta["service"] = svc
			}
			a := newAsset(host.IP+":"+strconv.Itoa(port), models.AssetAPI, now, meta)
			result.Assets = append(result.Assets, a)
			result.Relationships = append(result.Relationships, newRelationship(hostID, a.ID, models.RelHosts, now))
			shodanAdded++
		}
	}
	m.recorder.AssetsFound(sourceShodan, shodanAdded)
	if full() {
		m.logger.Warnf("Asset limit of %d reached for %s, remaining results dropped", m.maxResults, domain)
	}

	m.logger.WithFields(logrus.Fields{
		"domain":        domain,
		"assets":        len(result.Assets),
		"relationships": len(result.Relationships),
	}).Info("Completed passive reconnaissance")

	return result, nil
}

func (m *Manager) query(ctx context.Context, domain string) sourceAnswers {
	var (
		answers sourceAnswers
		g       errgroup.Group
	)

	g.Go(func() error {
		if err := m.wait(ctx, m.crtsh.Name()); err != nil {
			return nil
		}
		names, err := m.crtsh.Subdomains(ctx, domain)
		if err != nil {
			m.logger.Warnf("crt.sh lookup for %s failed: %v", domain, err)
			return nil
		}
		answers.certNames = names
		return nil
	})

	if m.ctlogs.Enabled() {
		g.Go(func() error {
			if err := m.wait(ctx, m.ctlogs.Name()); err != nil {
				return nil
			}
			names, err := m.ctlogs.Subdomains(ctx, domain)
			if err != nil {
				m.logger.Warnf("CT log lookup for %s failed: %v", domain, err)
				return nil
			}
			answers.ctNames = names
			return nil
		})
	}

	if m.trails.Enabled() {
		g.Go(func() error {
			if err := m.wait(ctx, m.trails.Name()); err != nil {
				return nil
			}
			names, err := m.trails.Subdomains(ctx, domain)
			if err != nil {
				m.logger.Warnf("SecurityTrails lookup for %s failed: %v", domain, err)
				return nil
			}
			answers.trailsNames = names
			return nil
		})
	}

	if m.whois.Enabled() {
		g.Go(func() error {
			if err := m.wait(ctx, m.whois.Name()); err != nil {
				return nil
			}
			record, err := m.whois.Lookup(ctx, domain)
			if err != nil {
				m.logger.Warnf("WHOIS lookup for %s failed: %v", domain, err)
				return nil
			}
			answers.whois = record
			return nil
		})
	} else {
		m.logger.Debugf("Skipping WHOIS lookup for %s - no API key", domain)
	}

	g.Go(func() error {
		if err := m.wait(ctx, m.dns.Name()); err != nil {
			return nil
		}
		records, err := m.dns.Lookup(ctx, domain)
		if err != nil {
			m.logger.Warnf("DNS lookup for %s failed: %v", domain, err)
			return nil
		}
		answers.records = records
		return nil
	})

	if m.shodan.Enabled() {
		g.Go(func() error {
			if err := m.wait(ctx, m.shodan.Name()); err != nil {
				return nil
			}
			hosts, err := m.shodan.Search(ctx, domain)
			if err != nil {
				m.logger.Warnf("Shodan lookup for %s failed: %v", domain, err)
				return nil
			}
			answers.hosts = hosts
			return nil
		})
	} else {
		m.logger.Debugf("Skipping Shodan lookup for %s - no API key", domain)
	}

	// each goroutine writes a distinct field
	_ = g.Wait()
	return answers
}

func (m *Manager) wait(ctx context.Context, source string) error {
	if err := m.limiters[source].Wait(ctx); err != nil {
		m.logger.Debugf("Rate limiter for %s: %v", source, err)
		return err
	}
	return nil
}

func newAsset(name string, typ models.AssetType, at time.Time, meta map[string]interface{}) models.Asset {
	return models.Asset{
		ID:            uuid.NewString(),
		Name:          name,
		Type:          typ,
		DiscoveredAt:  at,
		LastUpdatedAt: at,
		Metadata:      meta,
	}
}

func newRelationship(source, target, typ string, at time.Time) models.AssetRelationship {
	return models.AssetRelationship{
		SourceID:     source,
		TargetID:     target,
		Type:         typ,
		DiscoveredAt: at,
	}
}
