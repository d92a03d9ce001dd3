package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

func NewConfigureCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"configure"},
		Short:   "Manage easmscan configuration",
		Long:    `Initialize, inspect and validate easmscan configuration files.`,
	}

	cmd.AddCommand(newConfigInitCommand(rt))
	cmd.AddCommand(newConfigShowCommand(rt))
	cmd.AddCommand(newConfigValidateCommand(rt))
	return cmd
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".easmscan", "config.yaml"), nil
}

func newConfigInitCommand(rt *Runtime) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long:  `Write the default configuration (YAML, or JSON for a .json path). Defaults to $HOME/.easmscan/config.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.TrimSpace(args[0])
			}
			if path == "" {
				p, err := defaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}
			if err := models.DefaultConfig().Save(path); err != nil {
				return fmt.Errorf("failed to write configuration file: %w", err)
			}
			rt.logger().Infof("Configuration initialized: %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after defaults, config file and environment are merged. Secrets are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printConfig(rt.config())
			return nil
		},
	}
}

func newConfigValidateCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := models.DefaultConfig()
			if err := cfg.Load(args[0]); err != nil {
				return err
			}
			rt.logger().Infof("Configuration %s is valid", args[0])
			return nil
		},
	}
}

func printConfig(cfg *models.Config) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SCANNER:\t")
	fmt.Fprintf(w, "  Max Scans/Second:\t%d\n", cfg.Scanner.MaxScansPerSecond)
	fmt.Fprintf(w, "  Max Retries:\t%d\n", cfg.Scanner.MaxRetries)
	fmt.Fprintf(w, "  Retry Delay:\t%s\n", cfg.Scanner.RetryDelay)
	fmt.Fprintf(w, "  Admission Backoff:\t%s (x%d)\n", cfg.Scanner.AdmissionBackoff, cfg.Scanner.MaxAdmissionAttempts)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "HTTP:\t")
	fmt.Fprintf(w, "  Timeout:\t%s\n", cfg.HTTP.Timeout)
	fmt.Fprintf(w, "  User Agent:\t%s\n", cfg.HTTP.UserAgent)
	fmt.Fprintf(w, "  Follow Redirects:\t%t\n", cfg.HTTP.FollowRedirects)
	fmt.Fprintf(w, "  Proxy:\t%s\n", orNone(cfg.HTTP.Proxy))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "RECON:\t")
	fmt.Fprintf(w, "  Enabled:\t%t\n", cfg.Recon.Enabled)
	fmt.Fprintf(w, "  Shodan Key:\t%s\n", secret(cfg.Recon.ShodanAPIKey))
	fmt.Fprintf(w, "  WHOIS Key:\t%s\n", secret(cfg.Recon.WhoisAPIKey))
	fmt.Fprintf(w, "  Censys Key:\t%s\n", secret(cfg.Recon.CensysAPIKey))
	fmt.Fprintf(w, "  SecurityTrails Key:\t%s\n", secret(cfg.Recon.SecurityTrails))
	fmt.Fprintf(w, "  Nameservers:\t%s\n", strings.Join(cfg.Recon.Nameservers, ", "))
	fmt.Fprintf(w, "  CT Logs:\t%d\n", len(cfg.Recon.CTLogURLs))
	fmt.Fprintf(w, "  Max Results:\t%d\n", cfg.Recon.MaxResults)
	fmt.Fprintf(w, "  Rate Limit:\t%d/s\n", cfg.Recon.RateLimit)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "REPORTING:\t")
	fmt.Fprintf(w, "  Formats:\t%s\n", strings.Join(cfg.Reporting.Formats, ", "))
	fmt.Fprintf(w, "  Output Directory:\t%s\n", cfg.Reporting.OutputDir)
	fmt.Fprintf(w, "  Compress:\t%t\n", cfg.Reporting.Compress)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "API:\t")
	fmt.Fprintf(w, "  Listen:\t%s:%d\n", cfg.API.Host, cfg.API.Port)
	fmt.Fprintf(w, "  Authentication:\t%t\n", cfg.API.Authentication)
	fmt.Fprintf(w, "  JWT Secret:\t%s\n", secret(cfg.API.JWTSecret))
	fmt.Fprintf(w, "  API Keys:\t%d\n", len(cfg.API.APIKeyHashes))
	fmt.Fprintf(w, "  CORS Origins:\t%s\n", strings.Join(cfg.API.CORSOrigins, ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "METRICS:\t")
	fmt.Fprintf(w, "  Enabled:\t%t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "  Address:\t%s\n", cfg.Metrics.Addr)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "LOGGING:\t")
	fmt.Fprintf(w, "  Level:\t%s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format:\t%s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output:\t%s\n", cfg.Logging.Output)
	fmt.Fprintf(w, "  File:\t%s\n", orNone(cfg.Logging.File))
}

func secret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return utils.MaskSensitiveData(s)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
