package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Server.IntegrityIntervalMins)
	assert.Equal(t, "https://csgapi.appspot.com/v1", cfg.Source.BaseURL)
	assert.InDelta(t, 10.0, cfg.Source.RatePerSec, 0.001)
	assert.Equal(t, 4, cfg.Source.MaxRetries)
	assert.InDelta(t, 0.8, cfg.Discovery.OverlapThreshold, 0.001)
	assert.Equal(t, 5, cfg.Discovery.MaxConsecutiveEmpty)
	assert.Equal(t, 10, cfg.Discovery.MaxProbeErrors)
	assert.Equal(t, 10, cfg.Discovery.MaxEmptyGroups)
	assert.InDelta(t, 95.0, cfg.Discovery.MinCoveragePct, 0.001)
	assert.Equal(t, "data/overrides.yaml", cfg.Discovery.OverridesFile)
	assert.Equal(t, 4, cfg.Build.MaxConcurrentStates)
	assert.Equal(t, 3, cfg.Build.MaxConcurrentCarriers)
	assert.Equal(t, 4, cfg.Build.MaxConcurrentFetches)
	assert.Equal(t, 2, cfg.Build.EffectiveDates)
	assert.Equal(t, 500, cfg.Build.FlushBatchSize)
	assert.Equal(t, 65, cfg.Build.AgeMin)
	assert.Equal(t, 99, cfg.Build.AgeMax)
	assert.Equal(t, 2, cfg.SpotCheck.MaxRegions)
	assert.Equal(t, 6, cfg.SpotCheck.MaxDemographics)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: file:rates.db
source:
  rate_per_sec: 2.5
  max_retries: 2
discovery:
  overlap_threshold: 0.9
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:rates.db", cfg.Store.DatabaseURL)
	assert.InDelta(t, 2.5, cfg.Source.RatePerSec, 0.001)
	assert.Equal(t, 2, cfg.Source.MaxRetries)
	assert.InDelta(t, 0.9, cfg.Discovery.OverlapThreshold, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Discovery.MaxConsecutiveEmpty)
	assert.Equal(t, 500, cfg.Build.FlushBatchSize)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
