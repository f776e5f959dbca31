package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/lifecycle"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Run the streaming risk-assessment worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := logging.LevelInfo
	if verbose {
		logLevel = logging.LevelDebug
	}
	log := logging.New(logging.Config{Level: logLevel, Format: logging.FormatJSON, Output: os.Stdout})
	log.Info("risk-worker starting", "version", version)

	m := metrics.New()
	go serveMetrics(cfg.Server.Port, m, log)

	mgr := lifecycle.New(cfg, log, m)
	if code := lifecycle.RunUntilSignal(mgr, log); code != 0 {
		return fmt.Errorf("risk-worker exited with status %d", code)
	}
	return nil
}

// serveMetrics exposes Prometheus metrics on the configured server port.
// It runs for the life of the process; a listener failure is logged and
// the worker keeps running without a metrics endpoint.
func serveMetrics(port int, m *metrics.Metrics, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", "error", err.Error())
	}
}
