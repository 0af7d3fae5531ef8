// Package config provides configuration management for the valuation
// service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/quantfold/optrisk/internal/pricing"
)

// Engine defaults applied when the corresponding keys are unset.
const (
	// defaultRiskFreeRate is used when engine.risk_free_rate is unset
	defaultRiskFreeRate = 0.05
	// defaultMinUsableIV / defaultMaxUsableIV bound solver results accepted as reliable
	defaultMinUsableIV = 0.01
	defaultMaxUsableIV = 2.00
	// defaultParallelism bounds concurrent position valuations
	defaultParallelism = 8
	// defaultValuationTimeout bounds one full portfolio revaluation
	defaultValuationTimeout = 30 * time.Second
	// defaultRefreshInterval is the gap between valuation cycles
	defaultRefreshInterval = 5 * time.Minute
	// defaultQuoteTimeout bounds one market data request
	defaultQuoteTimeout = 10 * time.Second
	// defaultSnapshotHistory caps retained valuation snapshots
	defaultSnapshotHistory = 100
)

// Config represents the complete application configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Volatility VolatilityConfig `yaml:"volatility"`
	Portfolio  PortfolioConfig  `yaml:"portfolio"`
	MarketData MarketDataConfig `yaml:"marketdata"`
	Storage    StorageConfig    `yaml:"storage"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig tunes the pricing engine and delta resolution ladder.
type EngineConfig struct {
	UseBlackScholes *bool   `yaml:"use_black_scholes"` // nil defaults to true
	RiskFreeRate    float64 `yaml:"risk_free_rate"`
	MinUsableIV     float64 `yaml:"min_usable_iv"`
	MaxUsableIV     float64 `yaml:"max_usable_iv"`
	SolverMaxIter   int     `yaml:"solver_max_iterations"`
	SolverTolerance float64 `yaml:"solver_tolerance"`
}

// VolatilityConfig carries the heuristic estimator factors. Zero-valued
// fields fall back to the engine defaults.
type VolatilityConfig struct {
	pricing.EstimatorConfig `yaml:",inline"`
}

// PortfolioConfig defines holdings ingestion and batch valuation limits.
type PortfolioConfig struct {
	CSVPath          string             `yaml:"csv_path"`
	Betas            map[string]float64 `yaml:"betas"` // per-underlying; absent means 1.0
	Parallelism      int                `yaml:"parallelism"`
	ValuationTimeout string             `yaml:"valuation_timeout"`
	RefreshInterval  string             `yaml:"refresh_interval"`
}

// MarketDataConfig defines the spot price provider. An empty base URL
// selects the static provider seeded from spots.
type MarketDataConfig struct {
	BaseURL        string             `yaml:"base_url"`
	APIKey         string             `yaml:"api_key"`
	Timeout        string             `yaml:"timeout"`
	MaxRetries     int                `yaml:"max_retries"`
	InitialBackoff string             `yaml:"initial_backoff"`
	MaxBackoff     string             `yaml:"max_backoff"`
	Spots          map[string]float64 `yaml:"spots"` // static provider seed
}

// StorageConfig defines valuation snapshot persistence.
type StorageConfig struct {
	Path       string `yaml:"path"`
	MaxHistory int    `yaml:"max_history"`
}

// DashboardConfig defines the read-only HTTP API.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads, expands, and validates the configuration file.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand ${ENV_VAR} references before parsing.
	expanded := os.ExpandEnv(string(raw))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.RiskFreeRate == 0 {
		c.Engine.RiskFreeRate = defaultRiskFreeRate
	}
	if c.Engine.MinUsableIV == 0 {
		c.Engine.MinUsableIV = defaultMinUsableIV
	}
	if c.Engine.MaxUsableIV == 0 {
		c.Engine.MaxUsableIV = defaultMaxUsableIV
	}
	if c.Engine.SolverMaxIter == 0 {
		c.Engine.SolverMaxIter = pricing.DefaultSolverConfig.MaxIterations
	}
	if c.Engine.SolverTolerance == 0 {
		c.Engine.SolverTolerance = pricing.DefaultSolverConfig.Tolerance
	}

	def := pricing.DefaultEstimatorConfig
	e := &c.Volatility.EstimatorConfig
	if e.BaseVol == 0 {
		e.BaseVol = def.BaseVol
	}
	if e.DeepOTMFactor == 0 {
		e.DeepOTMFactor = def.DeepOTMFactor
	}
	if e.OTMFactor == 0 {
		e.OTMFactor = def.OTMFactor
	}
	if e.ATMFactor == 0 {
		e.ATMFactor = def.ATMFactor
	}
	if e.ITMFactor == 0 {
		e.ITMFactor = def.ITMFactor
	}
	if e.DeepITMFactor == 0 {
		e.DeepITMFactor = def.DeepITMFactor
	}
	if e.UnderOneMonthFactor == 0 {
		e.UnderOneMonthFactor = def.UnderOneMonthFactor
	}
	if e.UnderThreeMonthFactor == 0 {
		e.UnderThreeMonthFactor = def.UnderThreeMonthFactor
	}
	if e.UnderOneYearFactor == 0 {
		e.UnderOneYearFactor = def.UnderOneYearFactor
	}
	if e.OverOneYearFactor == 0 {
		e.OverOneYearFactor = def.OverOneYearFactor
	}
	if e.MinVol == 0 {
		e.MinVol = def.MinVol
	}
	if e.MaxVol == 0 {
		e.MaxVol = def.MaxVol
	}

	if c.Portfolio.Parallelism == 0 {
		c.Portfolio.Parallelism = defaultParallelism
	}
	if c.MarketData.MaxRetries == 0 {
		c.MarketData.MaxRetries = 3
	}

	if c.Storage.MaxHistory == 0 {
		c.Storage.MaxHistory = defaultSnapshotHistory
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Engine.RiskFreeRate < 0 {
		return fmt.Errorf("engine.risk_free_rate must be >= 0")
	}
	if c.Engine.MinUsableIV <= 0 || c.Engine.MinUsableIV >= c.Engine.MaxUsableIV {
		return fmt.Errorf("engine.min_usable_iv must be positive and below engine.max_usable_iv")
	}
	if c.Engine.SolverMaxIter <= 0 {
		return fmt.Errorf("engine.solver_max_iterations must be > 0")
	}
	if c.Engine.SolverTolerance <= 0 {
		return fmt.Errorf("engine.solver_tolerance must be > 0")
	}

	e := c.Volatility.EstimatorConfig
	if e.BaseVol <= 0 {
		return fmt.Errorf("volatility.base_vol must be > 0")
	}
	if e.MinVol <= 0 || e.MinVol >= e.MaxVol {
		return fmt.Errorf("volatility.min_vol must be positive and below volatility.max_vol")
	}
	for name, factor := range map[string]float64{
		"deep_otm_factor":          e.DeepOTMFactor,
		"otm_factor":               e.OTMFactor,
		"atm_factor":               e.ATMFactor,
		"itm_factor":               e.ITMFactor,
		"deep_itm_factor":          e.DeepITMFactor,
		"under_one_month_factor":   e.UnderOneMonthFactor,
		"under_three_month_factor": e.UnderThreeMonthFactor,
		"under_one_year_factor":    e.UnderOneYearFactor,
		"over_one_year_factor":     e.OverOneYearFactor,
	} {
		if factor <= 0 {
			return fmt.Errorf("volatility.%s must be > 0", name)
		}
	}

	if c.Portfolio.CSVPath == "" {
		return fmt.Errorf("portfolio.csv_path is required")
	}
	for name, value := range map[string]string{
		"portfolio.valuation_timeout": c.Portfolio.ValuationTimeout,
		"portfolio.refresh_interval":  c.Portfolio.RefreshInterval,
		"marketdata.timeout":          c.MarketData.Timeout,
		"marketdata.initial_backoff":  c.MarketData.InitialBackoff,
		"marketdata.max_backoff":      c.MarketData.MaxBackoff,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %w", name, err)
		}
	}
	if c.Portfolio.Parallelism <= 0 {
		return fmt.Errorf("portfolio.parallelism must be > 0")
	}
	for symbol, beta := range c.Portfolio.Betas {
		if beta <= 0 {
			return fmt.Errorf("portfolio.betas[%s] must be > 0", symbol)
		}
	}

	if c.MarketData.BaseURL == "" && len(c.MarketData.Spots) == 0 {
		return fmt.Errorf("marketdata requires either base_url or a spots table")
	}
	if c.MarketData.BaseURL != "" && c.MarketData.APIKey == "" {
		return fmt.Errorf("marketdata.api_key is required when base_url is set")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0, 65535] when enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// durationOr parses a config duration string, falling back on empty or
// malformed values.
func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetValuationTimeout returns the bound on one portfolio revaluation.
func (c *Config) GetValuationTimeout() time.Duration {
	return durationOr(c.Portfolio.ValuationTimeout, defaultValuationTimeout)
}

// GetRefreshInterval returns the gap between valuation cycles.
func (c *Config) GetRefreshInterval() time.Duration {
	return durationOr(c.Portfolio.RefreshInterval, defaultRefreshInterval)
}

// GetQuoteTimeout returns the per-request market data timeout.
func (c *MarketDataConfig) GetQuoteTimeout() time.Duration {
	return durationOr(c.Timeout, defaultQuoteTimeout)
}

// GetInitialBackoff returns the first retry backoff.
func (c *MarketDataConfig) GetInitialBackoff() time.Duration {
	return durationOr(c.InitialBackoff, time.Second)
}

// GetMaxBackoff returns the retry backoff ceiling.
func (c *MarketDataConfig) GetMaxBackoff() time.Duration {
	return durationOr(c.MaxBackoff, 30*time.Second)
}

// UseBlackScholes reports whether full Black-Scholes resolution is
// enabled; unset defaults to true.
func (c *Config) UseBlackScholes() bool {
	return c.Engine.UseBlackScholes == nil || *c.Engine.UseBlackScholes
}

// ResolverConfig assembles the pricing resolver configuration.
func (c *Config) ResolverConfig() pricing.ResolverConfig {
	return pricing.ResolverConfig{
		UseBlackScholes: c.UseBlackScholes(),
		RiskFreeRate:    c.Engine.RiskFreeRate,
		MinUsableIV:     c.Engine.MinUsableIV,
		MaxUsableIV:     c.Engine.MaxUsableIV,
		Solver: pricing.SolverConfig{
			MaxIterations: c.Engine.SolverMaxIter,
			Tolerance:     c.Engine.SolverTolerance,
		},
		Estimator: c.Volatility.EstimatorConfig,
	}
}
