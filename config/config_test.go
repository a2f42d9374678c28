package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)

	cfg := DefaultConfig()
	cfg.Wallet.Name = "test-wallet"
	cfg.Store.Path = "/var/lib/agent/store"
	cfg.Prompt.RequestTimeout = time.Minute

	require.NoError(t, WriteConfig(path, cfg))

	got, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "test-wallet", got.Wallet.Name)
	require.Equal(t, "/var/lib/agent/store", got.Store.Path)
	require.Equal(t, time.Minute, got.Prompt.RequestTimeout)
	require.Equal(t, cfg.API.ListenAddress, got.API.ListenAddress)
	require.Equal(t, cfg.Metrics.Exporter.Prometheus.Namespace, got.Metrics.Exporter.Prometheus.Namespace)
}

func TestReadMissingConfig(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.API.ListenAddress)
	require.Equal(t, "keyhaven", cfg.Wallet.Name)
	require.Equal(t, 30*time.Minute, cfg.Prompt.RequestTimeout)
	require.Equal(t, "wallet_agent", cfg.Metrics.Exporter.Prometheus.Namespace)
}
