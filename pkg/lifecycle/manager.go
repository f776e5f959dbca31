// Package lifecycle orchestrates the worker's startup and shutdown
// order and translates OS signals into graceful shutdown.
package lifecycle

import (
	"context"
	"time"

	"github.com/riskstream/risk-worker/pkg/artifacts"
	"github.com/riskstream/risk-worker/pkg/broker"
	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/dispatcher"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
	"github.com/riskstream/risk-worker/pkg/registry"
	"github.com/riskstream/risk-worker/pkg/scoring"
	"github.com/riskstream/risk-worker/pkg/vectorindex"
)

// dispatcherDrainDeadline bounds Shutdown's wait for in-flight callbacks.
// The consumer owns its own drain deadline internally.
const dispatcherDrainDeadline = 30 * time.Second

// Manager owns every long-lived component and drives the strict
// startup/shutdown order from §4.F: artefacts, vector index, broker,
// dispatcher, consumer, discovery registration — and the reverse on the
// way down.
type Manager struct {
	cfg *config.Config
	log *logging.Logger
	m   *metrics.Metrics

	index      *vectorindex.Client
	kernel     *scoring.Kernel
	dispatcher *dispatcher.Dispatcher
	consumer   *broker.Consumer
	reg        *registry.Registry
}

// New constructs a Manager; nothing is connected or started yet.
func New(cfg *config.Config, log *logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{cfg: cfg, log: log, m: m}
}

// Start performs the strict startup sequence: load artefacts, open the
// vector index, connect the broker, start the dispatcher, start the
// consumer, then register with discovery. Any step failing aborts
// startup; steps already completed are not unwound here — the caller
// (main) should exit and rely on process restart.
func (mgr *Manager) Start(ctx context.Context) error {
	mgr.log.Info("loading artefacts")
	reg, err := artifacts.Load(mgr.cfg.Artefacts, mgr.log)
	if err != nil {
		return err
	}

	mgr.log.Info("opening vector index client")
	mgr.index = vectorindex.New(mgr.cfg.Index, mgr.log, mgr.m)
	if err := mgr.index.Ping(ctx); err != nil {
		return err
	}

	mgr.kernel = scoring.New(reg, mgr.index)

	mgr.log.Info("connecting to broker")
	mgr.dispatcher = dispatcher.New(mgr.cfg.Callback, dispatcherWorkerCount, mgr.cfg.Broker.Prefetch*10, mgr.log, mgr.m)
	mgr.consumer = broker.New(mgr.cfg.Broker, mgr.cfg.Batch, mgr.kernel, mgr.dispatcher, mgr.log, mgr.m)
	if err := mgr.consumer.Connect(ctx); err != nil {
		return err
	}

	mgr.log.Info("starting callback dispatcher workers")
	mgr.dispatcher.Start(ctx)

	mgr.log.Info("starting batch consumer subscription")
	go func() {
		if err := mgr.consumer.Run(ctx); err != nil {
			mgr.log.Error("batch consumer exited", "error", err.Error())
		}
	}()

	if mgr.cfg.Registry.EnableRemoteConfig {
		mgr.log.Warn("registry.enable_remote_config is set, but remote config pull is not available in this build")
	}

	if mgr.cfg.Registry.Addr != "" {
		mgr.log.Info("registering with discovery registry")
		dr, err := registry.New(mgr.cfg.Registry, mgr.log)
		if err != nil {
			return err
		}
		mgr.reg = dr
		if err := dr.Register(ctx, registry.Instance{
			ServiceName: mgr.cfg.Registry.ServiceName,
			IP:          localIP(),
			Port:        mgr.cfg.Server.Port,
			Metadata: map[string]string{
				"environment": mgr.cfg.Server.Environment,
				"version":     mgr.cfg.Server.Version,
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

// dispatcherWorkerCount is the recommended pool size from §5's
// concurrency model (N ~= 16).
const dispatcherWorkerCount = 16

// Shutdown runs the strict-reverse shutdown order: deregister, drain the
// consumer, drain the dispatcher, then close the broker and vector index
// connections.
func (mgr *Manager) Shutdown(ctx context.Context) {
	if mgr.reg != nil {
		mgr.log.Info("deregistering from discovery registry")
		mgr.reg.Deregister(ctx)
	}

	if mgr.consumer != nil {
		mgr.log.Info("draining batch consumer")
		mgr.consumer.Drain(ctx)
	}

	if mgr.dispatcher != nil {
		mgr.log.Info("draining callback dispatcher")
		mgr.dispatcher.Drain(dispatcherDrainDeadline)
	}

	if mgr.consumer != nil {
		mgr.consumer.Close()
	}
	if mgr.index != nil {
		mgr.index.Close()
	}

	mgr.log.Info("shutdown complete")
}
