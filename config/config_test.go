package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/config"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const sample = `
network: localnet
networks:
  localnet:
    ledger_url: http://node0:26657
    registry_address: "0x00000000000000000000000000000000000000aa"
    engine_address: "00000000000000000000000000000000000000BB"
database:
  driver: sqlite
  dsn: "file::memory:"
orchestrator:
  oracles: 30
  dedupe_ttl: 2m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flightsurety.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Network)
	assert.Equal(t, 20, cfg.Orchestrator.Oracles)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.DedupeTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	_, _, err = cfg.Components()
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)

	network, err := cfg.Active()
	require.NoError(t, err)
	assert.Equal(t, "http://node0:26657", network.LedgerURL)

	registry, engine, err := cfg.Components()
	require.NoError(t, err)
	assert.Equal(t, surety.Address("00000000000000000000000000000000000000AA"), registry)
	assert.Equal(t, surety.Address("00000000000000000000000000000000000000BB"), engine)

	assert.Equal(t, 30, cfg.Orchestrator.Oracles)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.DedupeTTL)
	assert.Equal(t, 5, cfg.Orchestrator.RegisterConcurrency)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FLIGHTSURETY_DATABASE_DSN", "file:override.db")
	t.Setenv("FLIGHTSURETY_ORCHESTRATOR_WORKERS", "3")
	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "file:override.db", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Orchestrator.Workers)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := config.Load(writeConfig(t, "network: mainnet\n"))
	require.Error(t, err)

	_, err = config.Load(writeConfig(t, "database:\n  driver: mysql\n"))
	require.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
