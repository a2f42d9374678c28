package config

import (
	"os"
	"time"

	"github.com/ipfs-force-community/metrics"
	"github.com/pelletier/go-toml"
)

const (
	// Configuration file name
	ConfigFile = "config.toml"
)

type Config struct {
	API     *APIConfig
	Wallet  *WalletConfig
	Store   *StoreConfig
	Prompt  *PromptConfig
	Metrics *metrics.MetricsConfig
	Trace   *metrics.TraceConfig
}

type APIConfig struct {
	ListenAddress string
}

// WalletConfig is the display metadata apps see in the wallet descriptor.
type WalletConfig struct {
	Name string
	Icon string
}

type StoreConfig struct {
	// Path is the badger directory holding persisted accounts and grants.
	// Empty means state lives in memory only.
	Path string
}

type PromptConfig struct {
	RequestQueueSize int
	RequestTimeout   time.Duration
	ClearInterval    time.Duration
}

func DefaultConfig() *Config {
	cfg := &Config{
		API:    &APIConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45780"},
		Wallet: &WalletConfig{Name: "keyhaven"},
		Store:  &StoreConfig{Path: "./store"},
		Prompt: &PromptConfig{
			RequestQueueSize: 30,
			RequestTimeout:   time.Minute * 30,
			ClearInterval:    time.Minute * 5,
		},
		Metrics: metrics.DefaultMetricsConfig(),
		Trace:   metrics.DefaultTraceConfig(),
	}
	namespace := "wallet_agent"
	cfg.Metrics.Exporter.Prometheus.Namespace = namespace
	cfg.Metrics.Exporter.Graphite.Namespace = namespace
	cfg.Metrics.Exporter.Prometheus.EndPoint = "/ip4/0.0.0.0/tcp/4781"
	cfg.Metrics.Exporter.Graphite.Port = 4781
	cfg.Trace.ServerName = "wallet-agent"
	cfg.Trace.JaegerEndpoint = ""

	return cfg
}

func ReadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = toml.Unmarshal(data, cfg)

	return cfg, err
}

func WriteConfig(filePath string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}
