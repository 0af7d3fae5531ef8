package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optrisk/internal/pricing"
)

const validYAML = `
engine:
  risk_free_rate: 0.04
  solver_max_iterations: 80

volatility:
  base_vol: 0.25
  deep_otm_factor: 1.5

portfolio:
  csv_path: positions.csv
  parallelism: 4
  valuation_timeout: 45s
  refresh_interval: 2m
  betas:
    TSLA: 1.8
    SPY: 1.0

marketdata:
  spots:
    TSLA: 250.0
    SPY: 550.0

storage:
  path: data/snapshots.json

dashboard:
  enabled: true
  port: 9090
  auth_token: secret

logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 0.04, cfg.Engine.RiskFreeRate)
	assert.Equal(t, 80, cfg.Engine.SolverMaxIter)
	assert.Equal(t, 0.25, cfg.Volatility.BaseVol)
	assert.Equal(t, 1.5, cfg.Volatility.DeepOTMFactor)
	assert.Equal(t, "positions.csv", cfg.Portfolio.CSVPath)
	assert.Equal(t, 1.8, cfg.Portfolio.Betas["TSLA"])
	assert.Equal(t, 250.0, cfg.MarketData.Spots["TSLA"])
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.UseBlackScholes())
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
portfolio:
  csv_path: positions.csv
marketdata:
  spots:
    SPY: 550.0
storage:
  path: data/snapshots.json
`))
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Engine.RiskFreeRate)
	assert.Equal(t, 0.01, cfg.Engine.MinUsableIV)
	assert.Equal(t, 2.00, cfg.Engine.MaxUsableIV)
	assert.Equal(t, pricing.DefaultSolverConfig.MaxIterations, cfg.Engine.SolverMaxIter)
	assert.Equal(t, pricing.DefaultEstimatorConfig.BaseVol, cfg.Volatility.BaseVol)
	assert.Equal(t, pricing.DefaultEstimatorConfig.DeepITMFactor, cfg.Volatility.DeepITMFactor)
	assert.Equal(t, 8, cfg.Portfolio.Parallelism)
	assert.Equal(t, 100, cfg.Storage.MaxHistory)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_DurationGetters(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.GetValuationTimeout())
	assert.Equal(t, 2*time.Minute, cfg.GetRefreshInterval())
	// Unset durations fall back.
	assert.Equal(t, 10*time.Second, cfg.MarketData.GetQuoteTimeout())
	assert.Equal(t, time.Second, cfg.MarketData.GetInitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.MarketData.GetMaxBackoff())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("OPTRISK_TEST_CSV", "/tmp/expanded.csv")
	cfg, err := Load(writeConfig(t, `
portfolio:
  csv_path: ${OPTRISK_TEST_CSV}
marketdata:
  spots:
    SPY: 550.0
storage:
  path: data/snapshots.json
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.csv", cfg.Portfolio.CSVPath)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+`
unknown_section:
  key: value
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"negative rate", func(c *Config) { c.Engine.RiskFreeRate = -0.01 }, "risk_free_rate"},
		{"inverted iv band", func(c *Config) { c.Engine.MinUsableIV = 3.0 }, "min_usable_iv"},
		{"zero base vol", func(c *Config) { c.Volatility.BaseVol = -1 }, "base_vol"},
		{"zero skew factor", func(c *Config) { c.Volatility.ATMFactor = -1 }, "atm_factor"},
		{"missing csv path", func(c *Config) { c.Portfolio.CSVPath = "" }, "csv_path"},
		{"bad duration", func(c *Config) { c.Portfolio.RefreshInterval = "soon" }, "refresh_interval"},
		{"zero parallelism", func(c *Config) { c.Portfolio.Parallelism = -1 }, "parallelism"},
		{"negative beta", func(c *Config) { c.Portfolio.Betas = map[string]float64{"X": -1} }, "betas"},
		{"no provider", func(c *Config) { c.MarketData.Spots = nil }, "marketdata"},
		{"url without key", func(c *Config) { c.MarketData.BaseURL = "https://api.example.com" }, "api_key"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad dashboard port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestUseBlackScholes_Explicit(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  use_black_scholes: false
portfolio:
  csv_path: positions.csv
marketdata:
  spots:
    SPY: 550.0
storage:
  path: data/snapshots.json
`))
	require.NoError(t, err)
	assert.False(t, cfg.UseBlackScholes())
	assert.False(t, cfg.ResolverConfig().UseBlackScholes)
}

func TestResolverConfig_Assembly(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	rc := cfg.ResolverConfig()
	assert.True(t, rc.UseBlackScholes)
	assert.Equal(t, 0.04, rc.RiskFreeRate)
	assert.Equal(t, 80, rc.Solver.MaxIterations)
	assert.Equal(t, 0.25, rc.Estimator.BaseVol)
	assert.Equal(t, 1.5, rc.Estimator.DeepOTMFactor)
}
