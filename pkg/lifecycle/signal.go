package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/riskstream/risk-worker/pkg/logging"
)

// RunUntilSignal starts mgr, blocks until SIGINT/SIGTERM, then runs the
// strict-reverse shutdown. A second signal during shutdown forces an
// immediate process exit rather than waiting on drain deadlines.
func RunUntilSignal(mgr *Manager, log *logging.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		log.Error("startup failed", "error", err.Error())
		return 1
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("shutdown signal received, draining", "signal", sig.String())

	shutdownDone := make(chan struct{})
	go func() {
		mgr.Shutdown(context.Background())
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		log.Info("graceful shutdown complete")
		return 0
	case sig := <-sigCh:
		log.Warn("second signal received, forcing immediate exit", "signal", sig.String())
		return 1
	}
}
