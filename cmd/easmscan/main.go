package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"github.com/bl4ck0w1/easmscan/cmd/easmscan/commands"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

var (
	version   = "1.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var rt = &commands.Runtime{
	Version:   version,
	Commit:    commit,
	BuildDate: buildDate,
}

var rootCmd = &cobra.Command{
	Use:           "easmscan",
	Short:         "EASM scanner - external attack surface scanning",
	Long:          "easmscan runs security detectors against external targets and maps a domain's passive attack surface.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		rt.Config = cfg

		if err := initLogging(cfg); err != nil {
			return err
		}

		if !viper.GetBool("quiet") {
			printBanner()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt.Logger != nil {
			_ = rt.Logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.easmscan/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet mode (no banner output)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(commands.NewScanCommand(rt))
	rootCmd.AddCommand(commands.NewDiscoverCommand(rt))
	rootCmd.AddCommand(commands.NewServeCommand(rt))
	rootCmd.AddCommand(commands.NewResultsCommand(rt))
	rootCmd.AddCommand(commands.NewPluginsCommand(rt))
	rootCmd.AddCommand(commands.NewConfigureCommand(rt))
	rootCmd.AddCommand(commands.NewTokenCommand(rt))
	rootCmd.AddCommand(commands.NewVersionCommand(rt))

	rootCmd.InitDefaultCompletionCmd()
	rootCmd.SetVersionTemplate(fmt.Sprintf("easmscan %s (commit %s, built %s)\n", version, commit, buildDate))
}

// legacyEnv maps the plain environment variables the scanner has always
// honoured onto config keys. EASMSCAN_* variables take precedence.
var legacyEnv = map[string]string{
	"scanner.max_scans_per_second":  "MAX_CONCURRENCY",
	"recon.shodan_api_key":          "SHODAN_API_KEY",
	"recon.censys_api_key":          "CENSYS_API_KEY",
	"recon.security_trails_api_key": "SECURITY_TRAILS_API_KEY",
	"recon.whois_api_key":           "WHOIS_API_KEY",
	"api.port":                      "PORT",
	"api.jwt_secret":                "JWT_SECRET",
	"logging.level":                 "LOG_LEVEL",
}

func initConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if err := setDefaults(cfg); err != nil {
		return nil, err
	}

	viper.SetEnvPrefix("EASMSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for key, env := range legacyEnv {
		envKey := "EASMSCAN_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = viper.BindEnv(key, envKey, env)
	}

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".easmscan"))
		}
		viper.AddConfigPath("/etc/easmscan/")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of cfg with viper so that environment
// variables can override keys absent from the config file.
func setDefaults(cfg *models.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode default config: %w", err)
	}
	setNestedDefaults("", tree)
	viper.SetDefault("quiet", false)
	return nil
}

func setNestedDefaults(prefix string, tree map[string]interface{}) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			setNestedDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, v)
	}
}

func initLogging(cfg *models.Config) error {
	logger, err := utils.NewLogger(utils.LogConfigFrom(cfg.Logging), "easmscan", version)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cfg.Global.Debug {
		logger.UpdateLevel("debug")
	}
	rt.Logger = logger
	if path := viper.ConfigFileUsed(); path != "" {
		logger.Debugf("Using config file: %s", path)
	}
	return nil
}

func printBanner() {
	const banner = `
  ___  __ _  ___ _ __ ___  ___  ___ __ _ _ __
 / _ \/ _' |/ __| '_ ' _ \/ __|/ __/ _' | '_ \
|  __/ (_| |\__ \ | | | | \__ \ (_| (_| | | | |
 \___|\__,_||___/_| |_| |_|___/\___\__,_|_| |_|   %s
`
	fmt.Fprintf(os.Stderr, banner, version)
	fmt.Fprintf(os.Stderr, "Build: %s (%s) | %s/%s\n\n", commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func main() {
	Execute()
}
