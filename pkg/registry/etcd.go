// Package registry registers and deregisters this worker instance with
// the discovery registry so other platform components can find it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
)

const leaseTTLSeconds = 30

// registrationKey builds the hierarchical key
// /<namespace>/<group>/<service_name>/<cluster>/<instance-id>, keyed by
// ip:port so a restarted instance on the same host cleanly replaces its
// prior key.
func registrationKey(cfg config.RegistryConfig, inst Instance) string {
	return fmt.Sprintf("/%s/%s/%s/%s/%s:%d",
		cfg.Namespace, cfg.Group, cfg.ServiceName, cfg.Cluster, inst.IP, inst.Port)
}

// Instance describes this process for registration.
type Instance struct {
	ServiceName string            `json:"service_name"`
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	Metadata    map[string]string `json:"metadata"`
}

// Registry registers Instance under a lease and keeps it alive until
// Deregister or process exit.
type Registry struct {
	client *clientv3.Client
	cfg    config.RegistryConfig
	log    *logging.Logger

	key     string
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// New dials the discovery backend. It does not register until Register
// is called, matching the lifecycle's staged startup.
func New(cfg config.RegistryConfig, log *logging.Logger) (*Registry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Addr},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to discovery registry: %w", err)
	}
	return &Registry{client: client, cfg: cfg, log: log}, nil
}

// Register publishes inst under a leased key and starts a background
// keep-alive. The key scheme is
// /<namespace>/<group>/<service_name>/<cluster>/<instance-id>.
func (r *Registry) Register(ctx context.Context, inst Instance) error {
	lease, err := r.client.Grant(ctx, leaseTTLSeconds)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	body, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	key := registrationKey(r.cfg, inst)

	if _, err := r.client.Put(ctx, key, string(body), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put registration key: %w", err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	alive, err := r.client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("start keepalive: %w", err)
	}

	r.key = key
	r.leaseID = lease.ID
	r.cancel = cancel

	go r.watchKeepAlive(alive)

	r.log.Info("registered with discovery registry", "key", key)
	return nil
}

func (r *Registry) watchKeepAlive(alive <-chan *clientv3.LeaseKeepAliveResponse) {
	for range alive {
		// drain; etcd's client renews the lease as long as this channel
		// is read from.
	}
	r.log.Warn("discovery registry keepalive channel closed")
}

// Deregister revokes the lease, which deletes the key, and closes the
// client connection.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.leaseID != 0 {
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			r.log.Error("failed to revoke discovery registry lease", "error", err.Error())
		}
	}
	r.log.Info("deregistered from discovery registry", "key", r.key)
	return r.client.Close()
}
