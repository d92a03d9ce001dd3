package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"github.com/bl4ck0w1/easmscan/internal/discovery/passive"
	"github.com/bl4ck0w1/easmscan/internal/orchestration"
	"github.com/bl4ck0w1/easmscan/internal/plugins"
	"github.com/bl4ck0w1/easmscan/internal/storage"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

// Runtime is filled in by the root command before any subcommand runs.
type Runtime struct {
	Config    *models.Config
	Logger    *utils.Logger
	Version   string
	Commit    string
	BuildDate string
}

func (rt *Runtime) config() *models.Config {
	if rt.Config == nil {
		rt.Config = models.DefaultConfig()
	}
	return rt.Config
}

func (rt *Runtime) logger() *utils.Logger {
	if rt.Logger == nil {
		rt.Logger = utils.DefaultLogger()
	}
	return rt.Logger
}

// engine bundles the scanner with the metrics it reports to.
type engine struct {
	scanner *orchestration.Scanner
	metrics *utils.MetricsCollector
	scan    *utils.ScanMetrics
}

func (rt *Runtime) newEngine() (*engine, error) {
	registry, err := plugins.NewRegistry(rt.logger().ForComponent("plugins"))
	if err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}

	collector := utils.NewMetricsCollector(rt.config().Metrics.Enabled)
	scanMetrics, err := utils.NewScanMetrics(collector)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	scanner, err := orchestration.NewScanner(registry, orchestration.ScanConfigFrom(rt.config().Scanner), scanMetrics, rt.logger().ForComponent("scanner"))
	if err != nil {
		return nil, err
	}
	return &engine{scanner: scanner, metrics: collector, scan: scanMetrics}, nil
}

func (rt *Runtime) newResultStore() (*storage.ResultStore, error) {
	cfg := rt.config()
	return storage.NewResultStore(cfg.Global.DataDir, cfg.Reporting.Compress, rt.logger().ForComponent("storage"))
}

func (rt *Runtime) newReconManager(recorder passive.AssetRecorder) (*passive.Manager, error) {
	return passive.NewManager(rt.config().Recon, recorder, rt.logger().ForComponent("recon"))
}

// defaultOptions seeds scan options from the http section of the config.
func (rt *Runtime) defaultOptions() models.Options {
	h := rt.config().HTTP
	return models.Options{
		Timeout:         h.Timeout,
		UserAgent:       h.UserAgent,
		FollowRedirects: models.Bool(h.FollowRedirects),
		Proxy:           h.Proxy,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// rotateOnHangup reopens the log file on SIGHUP until ctx is done.
func rotateOnHangup(ctx context.Context, logger *utils.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	rotateOn(ctx, hup, logger)
}

func rotateOn(ctx context.Context, signals <-chan os.Signal, logger *utils.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if err := logger.Rotate(); err != nil {
				logger.Warnf("Log rotation failed: %v", err)
				continue
			}
			logger.Info("Log file rotated")
		}
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
