// Package config loads the worker's configuration from a YAML file with
// environment-variable overrides, following the option table of the
// streaming risk-assessment worker's specification.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the worker's full configuration surface.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Index     IndexConfig     `yaml:"index"`
	Callback  CallbackConfig  `yaml:"callback"`
	Batch     BatchConfig     `yaml:"batch"`
	Artefacts ArtefactsConfig `yaml:"artefacts"`
	Registry  RegistryConfig  `yaml:"registry"`
	Server    ServerConfig    `yaml:"server"`
}

// BrokerConfig is the AMQP connection and subscription configuration.
type BrokerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	VHost       string        `yaml:"vhost"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Queue       string        `yaml:"queue"`
	Exchange    string        `yaml:"exchange"`
	RoutingKey  string        `yaml:"routing_key"`
	Prefetch    int           `yaml:"prefetch"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// IndexConfig is the vector-index connection configuration.
type IndexConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	DB        int    `yaml:"db"`
	Password  string `yaml:"password"`
	IndexName string `yaml:"index_name"`
}

// CallbackConfig configures result delivery.
type CallbackConfig struct {
	URL       string `yaml:"url"`
	TimeoutS  int    `yaml:"timeout_s"`
}

// BatchConfig configures micro-batching in the Batch Consumer.
type BatchConfig struct {
	Size      int `yaml:"size"`
	TimeoutMs int `yaml:"timeout_ms"`
}

// ArtefactsConfig locates the on-disk model artefacts loaded at startup.
type ArtefactsConfig struct {
	EncoderPath      string `yaml:"encoder_path"`
	StandardiserPath string `yaml:"standardiser_path"`
	ThresholdsPath   string `yaml:"thresholds_path"`
}

// RegistryConfig configures discovery-registry registration.
type RegistryConfig struct {
	Addr                string `yaml:"addr"`
	Namespace           string `yaml:"namespace"`
	Group               string `yaml:"group"`
	ServiceName         string `yaml:"service_name"`
	Cluster             string `yaml:"cluster"`
	EnableRemoteConfig  bool   `yaml:"enable_remote_config"`
}

// ServerConfig describes this instance for registration and local metrics.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Prefetch:  50,
			Heartbeat: 600 * time.Second,
		},
		Callback: CallbackConfig{
			TimeoutS: 30,
		},
		Batch: BatchConfig{
			Size:      16,
			TimeoutMs: 20,
		},
		Registry: RegistryConfig{
			EnableRemoteConfig: false,
		},
		Server: ServerConfig{
			Port:        8000,
			Environment: "dev",
			Version:     "1.0.0",
		},
	}
}

// Load reads path (or the defaults, if path does not exist), then applies
// environment-variable overrides for every option in the table.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "config.yaml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides every leaf field from its documented
// environment variable, if set. Env always wins over the file, which
// always wins over the default.
func applyEnvOverrides(cfg *Config) {
	strVar(&cfg.Broker.Host, "BROKER_HOST")
	intVar(&cfg.Broker.Port, "BROKER_PORT")
	strVar(&cfg.Broker.VHost, "BROKER_VHOST")
	strVar(&cfg.Broker.User, "BROKER_USER")
	strVar(&cfg.Broker.Password, "BROKER_PASSWORD")
	strVar(&cfg.Broker.Queue, "BROKER_QUEUE")
	strVar(&cfg.Broker.Exchange, "BROKER_EXCHANGE")
	strVar(&cfg.Broker.RoutingKey, "BROKER_ROUTING_KEY")
	intVar(&cfg.Broker.Prefetch, "BROKER_PREFETCH")
	durVarSeconds(&cfg.Broker.Heartbeat, "BROKER_HEARTBEAT")

	strVar(&cfg.Index.Host, "INDEX_HOST")
	intVar(&cfg.Index.Port, "INDEX_PORT")
	intVar(&cfg.Index.DB, "INDEX_DB")
	strVar(&cfg.Index.Password, "INDEX_PASSWORD")
	strVar(&cfg.Index.IndexName, "INDEX_INDEX_NAME")

	strVar(&cfg.Callback.URL, "CALLBACK_URL")
	intVar(&cfg.Callback.TimeoutS, "CALLBACK_TIMEOUT_S")

	intVar(&cfg.Batch.Size, "BATCH_SIZE")
	intVar(&cfg.Batch.TimeoutMs, "BATCH_TIMEOUT_MS")

	strVar(&cfg.Artefacts.EncoderPath, "ARTEFACTS_ENCODER_PATH")
	strVar(&cfg.Artefacts.StandardiserPath, "ARTEFACTS_STANDARDISER_PATH")
	strVar(&cfg.Artefacts.ThresholdsPath, "ARTEFACTS_THRESHOLDS_PATH")

	strVar(&cfg.Registry.Addr, "REGISTRY_ADDR")
	strVar(&cfg.Registry.Namespace, "REGISTRY_NAMESPACE")
	strVar(&cfg.Registry.Group, "REGISTRY_GROUP")
	strVar(&cfg.Registry.ServiceName, "REGISTRY_SERVICE_NAME")
	strVar(&cfg.Registry.Cluster, "REGISTRY_CLUSTER")
	boolVar(&cfg.Registry.EnableRemoteConfig, "REGISTRY_ENABLE_REMOTE_CONFIG")

	intVar(&cfg.Server.Port, "SERVER_PORT")
	strVar(&cfg.Server.Environment, "SERVER_ENVIRONMENT")
	strVar(&cfg.Server.Version, "SERVER_VERSION")
}

func strVar(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolVar(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durVarSeconds(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

// Validate rejects configuration that would make startup unsafe.
func (c *Config) Validate() error {
	if c.Broker.Queue == "" {
		return fmt.Errorf("broker.queue is required")
	}
	if c.Broker.Exchange == "" {
		return fmt.Errorf("broker.exchange is required")
	}
	if c.Callback.URL == "" {
		return fmt.Errorf("callback.url is required")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive")
	}
	if c.Batch.TimeoutMs <= 0 {
		return fmt.Errorf("batch.timeout_ms must be positive")
	}
	return nil
}

// AMQPURL builds the AMQP connection URI from the broker configuration.
func (c *BrokerConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}
