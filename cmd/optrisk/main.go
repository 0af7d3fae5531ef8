// Command optrisk values an option portfolio: it parses holdings from
// CSV, resolves per-position deltas through the pricing engine, and
// records exposure snapshots.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/optrisk/internal/config"
	"github.com/quantfold/optrisk/internal/dashboard"
	"github.com/quantfold/optrisk/internal/marketdata"
	"github.com/quantfold/optrisk/internal/portfolio"
	"github.com/quantfold/optrisk/internal/pricing"
	"github.com/quantfold/optrisk/internal/storage"
)

// App wires the valuation service together.
type App struct {
	config  *config.Config
	valuer  *portfolio.Valuer
	storage storage.Interface
	logger  *logrus.Logger
	csvPath string
	runOnce bool
}

func main() {
	var (
		configPath string
		csvPath    string
		once       bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&csvPath, "csv", "", "Override portfolio CSV path from config")
	flag.BoolVar(&once, "once", false, "Run a single valuation pass and exit")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	store, err := storage.NewStorage(cfg.Storage.Path, cfg.Storage.MaxHistory)
	if err != nil {
		logger.Fatalf("Failed to open snapshot storage: %v", err)
	}

	var provider marketdata.Provider
	if cfg.MarketData.BaseURL != "" {
		provider = marketdata.NewClient(cfg.MarketData, logger)
	} else {
		logger.Info("No market data URL configured, using static spot table")
		provider = marketdata.NewStaticProvider(cfg.MarketData.Spots)
	}

	resolver := pricing.NewResolver(logger, cfg.ResolverConfig())
	valuer := portfolio.NewValuer(provider, resolver, cfg.Portfolio.Betas, cfg.Portfolio.Parallelism, logger)

	app := &App{
		config:  cfg,
		valuer:  valuer,
		storage: store,
		logger:  logger,
		csvPath: cfg.Portfolio.CSVPath,
		runOnce: once,
	}
	if csvPath != "" {
		app.csvPath = csvPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.WithError(err).Error("Dashboard server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatalf("Valuation service error: %v", err)
	}
	logger.Info("Stopped")
}

// Run executes valuation passes until the context is canceled, or once
// in single-shot mode.
func (a *App) Run(ctx context.Context) error {
	if err := a.runCycle(ctx); err != nil {
		return err
	}
	if a.runOnce {
		return nil
	}

	ticker := time.NewTicker(a.config.GetRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.runCycle(ctx); err != nil {
				a.logger.WithError(err).Error("Valuation cycle failed")
			}
		}
	}
}

// runCycle ingests the portfolio, values it under the configured
// timeout, and records a snapshot. Remaining positions are skipped when
// the timeout fires; partial results are still persisted.
func (a *App) runCycle(ctx context.Context) error {
	positions, rowErrs, err := portfolio.LoadCSV(a.csvPath)
	if err != nil {
		return err
	}
	for _, rowErr := range rowErrs {
		a.logger.WithError(rowErr.Err).Warnf("Rejected portfolio row %d", rowErr.Line)
	}
	a.logger.Infof("Valuing %d positions (%d rows rejected)", len(positions), len(rowErrs))

	valueCtx, cancel := context.WithTimeout(ctx, a.config.GetValuationTimeout())
	defer cancel()

	valuations, summary := a.valuer.Value(valueCtx, positions)

	if err := a.storage.RecordSnapshot(&storage.Snapshot{
		Summary:   summary,
		Positions: valuations,
	}); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"valued":       summary.Valued,
		"failed":       summary.Failed,
		"delta_exp":    summary.TotalDeltaExposure,
		"beta_adj_exp": summary.TotalBetaAdjustedExposure,
	}).Info("Valuation pass complete")
	return nil
}
