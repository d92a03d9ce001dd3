package commands

import (
	"fmt"
	"os"
	"strings"
	"time"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/internal/api"
	"github.com/bl4ck0w1/easmscan/internal/reporting"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

type scanFlags struct {
	domain          string
	ip              string
	timeout         time.Duration
	userAgent       string
	followRedirects bool
	headers         []string
	cookies         []string
	proxy           string
	recon           bool
	noSave          bool
	report          bool
	formats         []string
	outputDir       string
}

func NewScanCommand(rt *Runtime) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Run every registered detector against a target",
		Long: `Run every registered security detector against the target URL and print the
aggregated scan result as JSON. With --recon and a domain, passive discovery runs first
and the output carries both results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rt, f, args[0])
		},
	}

	cmd.Flags().StringVarP(&f.domain, "domain", "d", "", "Domain hint for the target")
	cmd.Flags().StringVar(&f.ip, "ip", "", "IP hint for the target")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "Per-request timeout (default from config)")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "", "User-Agent header (default from config)")
	cmd.Flags().BoolVar(&f.followRedirects, "follow-redirects", false, "Follow HTTP redirects")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Extra header as 'Name: value' (repeatable)")
	cmd.Flags().StringArrayVar(&f.cookies, "cookie", nil, "Cookie as 'name=value' (repeatable)")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "Proxy as host:port or URL")
	cmd.Flags().BoolVar(&f.recon, "recon", false, "Run passive discovery for --domain before scanning")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not store the result under the data directory")
	cmd.Flags().BoolVar(&f.report, "report", false, "Write report files in addition to stdout")
	cmd.Flags().StringSliceVarP(&f.formats, "formats", "f", nil, "Report formats (json, yaml, txt)")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "Report output directory")
	return cmd
}

func runScan(cmd *cobra.Command, rt *Runtime, f *scanFlags, rawURL string) error {
	log := rt.logger()
	cfg := rt.config()

	target := models.Target{URL: rawURL, IP: f.ip}
	if !utils.IsValidURL(rawURL) {
		return fmt.Errorf("invalid url %q", rawURL)
	}
	if f.ip != "" && !utils.IsValidIP(f.ip) {
		return fmt.Errorf("invalid ip %q", f.ip)
	}
	if f.domain != "" {
		domain := utils.NormalizeDomain(f.domain)
		if !utils.IsValidDomain(domain) {
			return fmt.Errorf("invalid domain %q", f.domain)
		}
		target.Domain = domain
	}

	opts, err := f.options(rt.defaultOptions(), cmd)
	if err != nil {
		return err
	}

	var gen *reporting.ReportGenerator
	if f.report {
		rc := cfg.Reporting
		if len(f.formats) > 0 {
			rc.Formats = f.formats
		}
		if f.outputDir != "" {
			rc.OutputDir = f.outputDir
		}
		if gen, err = reporting.NewReportGenerator(rc, rt.Version, log.ForComponent("reporting")); err != nil {
			return err
		}
	}

	eng, err := rt.newEngine()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var discovery *models.DiscoveryResult
	if f.recon {
		if target.Domain == "" {
			return fmt.Errorf("--recon requires --domain")
		}
		manager, err := rt.newReconManager(eng.scan)
		if err != nil {
			return err
		}
		discovery, err = manager.GatherDomainInformation(ctx, target.Domain)
		if err != nil {
			return fmt.Errorf("passive discovery: %w", err)
		}
	}

	log.Infof("Starting scan for %s", target)
	result, err := eng.scanner.Scan(ctx, target, opts)
	if err != nil {
		return err
	}
	log.Infof("Scan %s finished in %s with %d issues", result.ScanID, utils.HumanizeDuration(result.Duration), result.Summary.TotalIssues)

	if !f.noSave {
		store, err := rt.newResultStore()
		if err != nil {
			return err
		}
		path, err := store.Save(result)
		if err != nil {
			log.Warnf("Failed to store scan result: %v", err)
		} else {
			log.Debugf("Scan result stored at %s", path)
		}
	}

	if gen != nil {
		paths, err := gen.GenerateAndExport(result, discovery)
		for _, p := range paths {
			log.Infof("Report written: %s", p)
		}
		if err != nil {
			return err
		}
	}

	if discovery != nil {
		return writeJSON(os.Stdout, api.ScanResponse{Scan: result, Discovery: discovery})
	}
	return writeJSON(os.Stdout, result)
}

// options layers explicitly set flags over the configured defaults.
func (f *scanFlags) options(opts models.Options, cmd *cobra.Command) (models.Options, error) {
	if f.timeout > 0 {
		opts.Timeout = f.timeout
	}
	if f.userAgent != "" {
		opts.UserAgent = f.userAgent
	}
	if cmd.Flags().Changed("follow-redirects") {
		opts.FollowRedirects = models.Bool(f.followRedirects)
	}
	if f.proxy != "" {
		opts.Proxy = f.proxy
	}

	headers, err := parsePairs(f.headers, ":")
	if err != nil {
		return opts, fmt.Errorf("invalid header: %w", err)
	}
	cookies, err := parsePairs(f.cookies, "=")
	if err != nil {
		return opts, fmt.Errorf("invalid cookie: %w", err)
	}
	opts.Headers = headers
	opts.Cookies = cookies
	return opts, nil
}

func parsePairs(items []string, sep string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, sep)
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not in 'name%svalue' form", item, sep)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
