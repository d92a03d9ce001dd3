package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global    GlobalConfig    `yaml:"global" json:"global"`
	Scanner   ScannerConfig   `yaml:"scanner" json:"scanner"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Recon     ReconConfig     `yaml:"recon" json:"recon"`
	Reporting ReportingConfig `yaml:"reporting" json:"reporting"`
	API       APIConfig       `yaml:"api" json:"api"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

type GlobalConfig struct {
	Debug   bool   `yaml:"debug" json:"debug"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

type ScannerConfig struct {
	MaxScansPerSecond    int           `yaml:"max_scans_per_second" json:"max_scans_per_second"`
	MaxRetries           int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay" json:"retry_delay"`
	AdmissionBackoff     time.Duration `yaml:"admission_backoff" json:"admission_backoff"`
	MaxAdmissionAttempts int           `yaml:"max_admission_attempts" json:"max_admission_attempts"`
	StatusRetention      time.Duration `yaml:"status_retention" json:"status_retention"`
}

type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	FollowRedirects bool          `yaml:"follow_redirects" json:"follow_redirects"`
	MaxRedirects    int           `yaml:"max_redirects" json:"max_redirects"`
	Proxy           string        `yaml:"proxy" json:"proxy"`
}

type ReconConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	ShodanAPIKey      string        `yaml:"shodan_api_key" json:"shodan_api_key"`
	WhoisAPIKey       string        `yaml:"whois_api_key" json:"whois_api_key"`
	CensysAPIKey      string        `yaml:"censys_api_key" json:"censys_api_key"`
	SecurityTrails    string        `yaml:"security_trails_api_key" json:"security_trails_api_key"`
	CrtShURL          string        `yaml:"crtsh_url" json:"crtsh_url"`
	ShodanURL         string        `yaml:"shodan_url" json:"shodan_url"`
	WhoisURL          string        `yaml:"whois_url" json:"whois_url"`
	SecurityTrailsURL string        `yaml:"security_trails_url" json:"security_trails_url"`
	Nameservers       []string      `yaml:"nameservers" json:"nameservers"`
	CTLogURLs         []string      `yaml:"ct_log_urls" json:"ct_log_urls"`
	CTMaxEntries      int           `yaml:"ct_max_entries" json:"ct_max_entries"`
	MaxResults        int           `yaml:"max_results" json:"max_results"`
	RateLimit         int           `yaml:"rate_limit" json:"rate_limit"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
}

type ReportingConfig struct {
	Formats   []string `yaml:"formats" json:"formats"`
	OutputDir string   `yaml:"output_dir" json:"output_dir"`
	Compress  bool     `yaml:"compress" json:"compress"`
}

type APIConfig struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	Authentication bool          `yaml:"authentication" json:"authentication"`
	JWTSecret      string        `yaml:"jwt_secret" json:"jwt_secret"`
	APIKeyHashes   []string      `yaml:"api_key_hashes" json:"api_key_hashes"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			DataDir: "./data",
		},
		Scanner: ScannerConfig{
			MaxScansPerSecond:    10,
			MaxRetries:           3,
			RetryDelay:           time.Second,
			AdmissionBackoff:     time.Second,
			MaxAdmissionAttempts: 30,
			StatusRetention:      5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			UserAgent:       "EASM-Scanner/1.0",
			FollowRedirects: false,
			MaxRedirects:    5,
		},
		Recon: ReconConfig{
			Enabled:           true,
			CrtShURL:          "https://crt.sh",
			ShodanURL:         "https://api.shodan.io",
			WhoisURL:          "https://api.whoisfreaks.com",
			SecurityTrailsURL: "https://api.securitytrails.com/v1",
			Nameservers:       []string{"8.8.8.8:53", "1.1.1.1:53"},
			CTMaxEntries:      1000,
			MaxResults:        1000,
			RateLimit:         5,
			Timeout:           30 * time.Second,
		},
		Reporting: ReportingConfig{
			Formats:   []string{"json"},
			OutputDir: "./reports",
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			Authentication: false,
			CORSOrigins:    []string{"*"},
			Timeout:        2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "logging.level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		errs = append(errs, "logging.output must be one of console|file|both")
	}

	if c.Scanner.MaxScansPerSecond <= 0 {
		errs = append(errs, "scanner.max_scans_per_second must be > 0")
	}
	if c.Scanner.MaxRetries < 0 {
		errs = append(errs, "scanner.max_retries must be >= 0")
	}
	if c.Scanner.RetryDelay < 0 {
		errs = append(errs, "scanner.retry_delay must be >= 0")
	}
	if c.Scanner.AdmissionBackoff <= 0 {
		errs = append(errs, "scanner.admission_backoff must be > 0")
	}
	if c.Scanner.MaxAdmissionAttempts <= 0 {
		errs = append(errs, "scanner.max_admission_attempts must be > 0")
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "http.timeout must be > 0")
	}
	if c.HTTP.FollowRedirects && c.HTTP.MaxRedirects < 0 {
		errs = append(errs, "http.max_redirects must be >= 0 when follow_redirects is true")
	}

	if c.Recon.Enabled {
		if c.Recon.Timeout <= 0 {
			errs = append(errs, "recon.timeout must be > 0 when recon is enabled")
		}
		if c.Recon.RateLimit < 0 {
			errs = append(errs, "recon.rate_limit must be >= 0")
		}
	}

	for _, f := range c.Reporting.Formats {
		switch strings.ToLower(f) {
		case "json", "yaml", "txt":
		default:
			errs = append(errs, fmt.Sprintf("reporting.formats: unsupported format %q", f))
		}
	}
	if c.Reporting.OutputDir == "" {
		errs = append(errs, "reporting.output_dir must not be empty")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be in [1,65535]")
	}
	if c.API.Authentication && c.API.JWTSecret == "" && len(c.API.APIKeyHashes) == 0 {
		errs = append(errs, "api.jwt_secret or api.api_key_hashes must be set when authentication is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.Validate()
}
