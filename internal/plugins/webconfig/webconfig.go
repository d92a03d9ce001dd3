package webconfig

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"
	"github.com/bl4ck0w1/easmscan/internal/httpclient"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
)

const (
	ID             = "web-config-scanner"
	DefaultTimeout = 5 * time.Second
	evidenceLength = 200
)

var plainPaths = []string{
	"/web.config",
	"/config/web.config",
	"/.././web.config",
	"/app/web.config",
	"/website/web.config",
	"/wwwroot/web.config",
}

var encodedPaths = []string{
	"/%77%65%62%2e%63%6f%6e%66%69%67",
	"/w%65b.config",
	"/%2e%2e/%2e%2e/web.config",
}

var contentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<connectionStrings>`),
	regexp.MustCompile(`(?i)<appSettings>`),
	regexp.MustCompile(`(?i)<configuration xmlns=`),
	regexp.MustCompile(`(?i)<system\.webServer>`),
	regexp.MustCompile(`(?i)<authentication mode=`),
	regexp.MustCompile(`(?i)<compilation debug=`),
}

// Scanner looks for ASP.NET web.config files served as plain content.
type Scanner struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

func (s *Scanner) ID() string   { return ID }
func (s *Scanner) Name() string { return "Web.config Exposure Scanner" }
func (s *Scanner) Description() string {
	return "Scans for exposed web.config files that may contain sensitive configuration data"
}

func (s *Scanner) Execute(ctx context.Context, target models.Target, opts models.Options) ([]models.Issue, error) {
	issues := make([]models.Issue, 0)
	if target.URL == "" {
		s.logger.Warn("Web.config scanner requires a URL target")
		return issues, nil
	}

	client, err := httpclient.New(httpclient.ConfigFromOptions(opts, DefaultTimeout), s.logger)
	if err != nil {
		return nil, fmt.Errorf("web.config scanner: %w", err)
	}

	s.logger.Infof("Starting web.config scan for: %s", target.URL)

	probes, failures := 0, 0
	var lastErr error
	for _, encoded := range []bool{false, true} {
		paths := plainPaths
		if encoded {
			paths = encodedPaths
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			probes++
			url := httpclient.JoinPath(target.URL, path)
			s.logger.Debugf("Scanning %s for web.config exposure", url)

			resp, err := client.Get(ctx, url)
			if err != nil {
				failures++
				lastErr = err
				s.logger.Errorf("Error scanning %s: %v", url, err)
				continue
			}
			if resp.StatusCode != http.StatusOK || !matchesConfig(resp.Body) {
				continue
			}
			issues = append(issues, newIssue(url, path, encoded, resp))
		}
	}

	if probes > 0 && failures == probes {
		return nil, fmt.Errorf("web.config scanner: target unreachable: %w", lastErr)
	}

	s.logger.Infof("Completed web.config scan for: %s, found %d issues", target.URL, len(issues))
	return issues, nil
}

func matchesConfig(body string) bool {
	for _, p := range contentPatterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

func newIssue(url, path string, encoded bool, resp *httpclient.Response) models.Issue {
	issue := models.Issue{
		Location: models.Location{URL: url},
		Metadata: map[string]interface{}{
			"evidence":     utils.Truncate(resp.Body, evidenceLength) + "...",
			"responseSize": len(resp.Body),
			"statusCode":   resp.StatusCode,
		},
	}

	if encoded {
		issue.ID = fmt.Sprintf("web-config-exposure-encoded-%016x", xxh3.HashString(url))
		issue.Title = "Exposed web.config via URL Encoding"
		issue.Description = "A Microsoft ASP.NET web.config file was accessible using URL encoding techniques, potentially bypassing security controls."
		issue.Severity = models.SeverityCritical
		issue.CWE = "CWE-22"
		issue.Remediation = "Configure web server to properly handle URL encoded paths and prevent access to configuration files."
		issue.AddReference("https://owasp.org/www-community/attacks/Path_Traversal")
		issue.AddReference("https://learn.microsoft.com/en-us/aspnet/core/security/preventing-open-redirects")
		issue.SetMetadata("encodedPath", path)
		return issue
	}

	issue.ID = fmt.Sprintf("web-config-exposure-%016x", xxh3.HashString(url))
	issue.Title = "Exposed web.config Configuration File"
	issue.Description = "A Microsoft ASP.NET web.config file was found exposed on the web server. This file may contain sensitive configuration data including connection strings, authentication keys, and application settings."
	issue.Severity = models.SeverityHigh
	issue.CWE = "CWE-538"
	issue.Remediation = "Configure web server to prevent access to configuration files by adding appropriate rules in web.config or through server configuration."
	issue.AddReference("https://learn.microsoft.com/en-us/aspnet/core/security/preventing-open-redirects")
	issue.AddReference("https://owasp.org/www-project-web-security-testing-guide/latest/4-Web_Application_Security_Testing/02-Configuration_and_Deployment_Management_Testing/03-Test_File_Extensions_Handling_for_Sensitive_Information")
	return issue
}
