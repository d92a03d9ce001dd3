package telerik

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"github.com/Masterminds/semver/v3"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
)

const (
	ID             = "telerik-scanner"
	DefaultTimeout = 10 * time.Second
	advisoryURL    = "https://www.telerik.com/support/kb/aspnet-ajax/details/security-advisory"
)

type VulnerableVersion struct {
	CVE         string
	Versions    []string
	Description string
	Severity    models.Severity
}

// Affected releases are the listed ones and everything older.
var vulnerableVersions = []VulnerableVersion{
	{
		CVE:         "CVE-2019-18935",
		Versions:    []string{"2019.3.1023", "2019.2.514", "2019.1.115", "2018.3.910", "2018.2.710"},
		Description: "Remote code execution vulnerability in RadAsyncUpload function",
		Severity:    models.SeverityCritical,
	},
	{
		CVE:         "CVE-2017-11317",
		Versions:    []string{"2017.2.621", "2017.1.228", "2016.3.1027"},
		Description: "Insecure deserialization vulnerability in RadAsyncUpload",
		Severity:    models.SeverityHigh,
	},
	{
		CVE:         "CVE-2017-9248",
		Versions:    []string{"2017.2.621", "2017.1.228", "2016.3.1027"},
		Description: "Cryptographic weakness in Telerik UI for ASP.NET AJAX",
		Severity:    models.SeverityHigh,
	},
}

var (
	pageMarkers = []string{"Telerik.Web.UI", "telerik.web", "RadAjaxPanel", "RadScriptManager"}
	indicators  = []string{
		"Telerik.Web.UI.WebResource.axd",
		"Telerik.Web.UI.DialogHandler.aspx",
		"Telerik.Web.UI.SpellCheckHandler.axd",
		"/WebResource.axd?d=",
		"ScriptResource.axd",
	}
	rauHandlers = []string{
		"/Telerik.Web.UI.WebResource.axd?type=rau",
		"/aspx/Telerik.Web.UI.WebResource.axd?type=rau",
		"/desktopmodules/telerik/radeditorprovider/Telerik.Web.UI.WebResource.axd?type=rau",
	}
	dialogHandlers = []string{
		"/Telerik.Web.UI.DialogHandler.aspx",
		"/aspx/Telerik.Web.UI.DialogHandler.aspx",
	}

	scriptVersionRe = regexp.MustCompile(`(?i)Telerik\.Web\.UI,\s*Version=([\d.]+)`)
	pageVersionRe   = regexp.MustCompile(`(?i)Telerik\.Web\.UI.*?(\d+\.\d+\.\d+\.\d+)`)
)

type Scanner struct {
	logger *logrus.Logger
	rules  []rule
}

type rule struct {
	VulnerableVersion
	constraint *semver.Constraints
}

func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Scanner{logger: logger}
	for _, v := range vulnerableVersions {
		c, err := newestConstraint(v.Versions)
		if err != nil {
			logger.Errorf("Skipping %s: %v", v.CVE, err)
			continue
		}
		s.rules = append(s.rules, rule{VulnerableVersion: v, constraint: c})
	}
	return s
}

func (s *Scanner) ID() string          { return ID }
func (s *Scanner) Name() string        { return "Telerik UI Vulnerability Scanner" }
func (s *Scanner) Description() string { return "Scans for vulnerabilities in Telerik UI components" }

func (s *Scanner) Execute(ctx context.Context, target models.Target, opts models.Options) ([]models.Issue, error) {
	issues := make([]models.Issue, 0)
	if target.URL == "" {
		s.logger.Warn("Telerik scanner requires a URL target")
		return issues, nil
	}
	baseURL := strings.TrimRight(target.URL, "/")

	client, err := httpclient.New(httpclient.ConfigFromOptions(opts, DefaultTimeout), s.logger)
	if err != nil {
		return nil, fmt.Errorf("telerik scanner: %w", err)
	}

	s.logger.Infof("Starting Telerik UI scan for: %s", baseURL)

	home, err := client.Get(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("telerik scanner: fetch %s: %w", baseURL, err)
	}

	if !s.detectPresence(ctx, client, baseURL, home) {
		s.logger.Debugf("No Telerik UI components detected at %s", baseURL)
		return issues, nil
	}
	s.logger.Infof("Telerik UI components detected at %s", baseURL)

	if version := s.detectVersion(ctx, client, baseURL, home); version != "" {
		s.logger.Infof("Detected Telerik UI version: %s", version)
		for _, v := range s.CheckVersion(version) {
			issues = append(issues, models.Issue{
				ID:          fmt.Sprintf("telerik-%s-%016x", v.CVE, xxh3.HashString(baseURL+version)),
				Title:       fmt.Sprintf("Vulnerable Telerik UI Component (%s)", v.CVE),
				Description: v.Description,
				Severity:    v.Severity,
				CWE:         "CWE-502",
				Location:    models.Location{URL: baseURL},
				Remediation: "Update Telerik UI components to the latest version.",
				References: []string{
					"https://nvd.nist.gov/vuln/detail/" + v.CVE,
					advisoryURL,
				},
				Metadata: map[string]interface{}{"detectedVersion": version},
			})
		}
	}

	if url := s.firstReachable(ctx, client, baseURL, rauHandlers); url != "" {
		issues = append(issues, models.Issue{
			ID:          fmt.Sprintf("telerik-rau-handler-%016x", xxh3.HashString(url)),
			Title:       "Exposed RadAsyncUpload Handler",
			Description: "The Telerik RadAsyncUpload handler is accessible, which may indicate vulnerability to CVE-2019-18935 or similar issues if the version is vulnerable.",
			Severity:    models.SeverityHigh,
			CWE:         "CWE-434",
			Location:    models.Location{URL: url},
			Remediation: "Update Telerik UI components to the latest version and ensure proper access controls for handlers.",
			References: []string{
				"https://nvd.nist.gov/vuln/detail/CVE-2019-18935",
				"https://www.telerik.com/support/kb/aspnet-ajax/upload-(async)/details/unrestricted-file-upload",
			},
		})
	}

	if url := s.firstReachable(ctx, client, baseURL, dialogHandlers); url != "" {
		issues = append(issues, models.Issue{
			ID:          fmt.Sprintf("telerik-dialog-handler-%016x", xxh3.HashString(url)),
			Title:       "Exposed Telerik DialogHandler",
			Description: "The Telerik DialogHandler is accessible, which may indicate vulnerability to dialog-based attacks in older versions of Telerik UI.",
			Severity:    models.SeverityMedium,
			CWE:         "CWE-20",
			Location:    models.Location{URL: url},
			Remediation: "Update Telerik UI components to the latest version and ensure proper access controls for handlers.",
			References:  []string{advisoryURL},
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Infof("Completed Telerik UI scan for: %s, found %d issues", baseURL, len(issues))
	return issues, nil
}

func (s *Scanner) detectPresence(ctx context.Context, client *httpclient.Client, baseURL string, home *httpclient.Response) bool {
	for _, marker := range pageMarkers {
		if strings.Contains(home.Body, marker) {
			return true
		}
	}

	for _, indicator := range indicators {
		resp, err := client.Get(ctx, httpclient.JoinPath(baseURL, indicator))
		if err != nil {
			s.logger.Debugf("Error checking Telerik indicator %s: %v", indicator, err)
			continue
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusFound {
			return true
		}
	}
	return false
}

func (s *Scanner) detectVersion(ctx context.Context, client *httpclient.Client, baseURL string, home *httpclient.Response) string {
	resp, err := client.Get(ctx, baseURL+"/ScriptResource.axd?d=")
	if err != nil {
		s.logger.Debugf("Error fetching ScriptResource.axd: %v", err)
	} else if resp.StatusCode == http.StatusOK {
		if m := scriptVersionRe.FindStringSubmatch(resp.Body); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}

	if home.StatusCode == http.StatusOK {
		if m := pageVersionRe.FindStringSubmatch(home.Body); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func (s *Scanner) firstReachable(ctx context.Context, client *httpclient.Client, baseURL string, paths []string) string {
	for _, path := range paths {
		url := httpclient.JoinPath(baseURL, path)
		resp, err := client.Get(ctx, url)
		if err != nil {
			s.logger.Debugf("Error probing %s: %v", url, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return url
		}
	}
	return ""
}

// CheckVersion returns every advisory whose affected range covers version.
func (s *Scanner) CheckVersion(version string) []VulnerableVersion {
	v, err := parseVersion(version)
	if err != nil {
		s.logger.Debugf("Unparseable Telerik version %q: %v", version, err)
		return nil
	}
	var out []VulnerableVersion
	for _, r := range s.rules {
		if r.constraint.Check(v) {
			out = append(out, r.VulnerableVersion)
		}
	}
	return out
}

func newestConstraint(versions []string) (*semver.Constraints, error) {
	var newest *semver.Version
	for _, raw := range versions {
		v, err := parseVersion(raw)
		if err != nil {
			return nil, err
		}
		if newest == nil || v.GreaterThan(newest) {
			newest = v
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no versions listed")
	}
	return semver.NewConstraint("<= " + newest.String())
}

// parseVersion keeps the year.release.build part of a Telerik version;
// the trailing .NET framework component is ignored.
func parseVersion(raw string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("expected at least three components in %q", raw)
	}
	nums := make([]uint64, 3)
	for i := 0; i < 3; i++ {
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid component %q in %q", parts[i], raw)
		}
		nums[i] = n
	}
	return semver.New(nums[0], nums[1], nums[2], "", ""), nil
}
