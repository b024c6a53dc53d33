// Command zakatsync runs one maintenance job and exits, for cron or manual
// use when the server's scheduler is disabled.
//
//	zakatsync                evaluate every user's anchors once
//	zakatsync -fetch-rates   fetch FX rates and metal prices once
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Eiad-Soufan/zakati-backend/app"
	"github.com/Eiad-Soufan/zakati-backend/config"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	fetchRates := flag.Bool("fetch-rates", false, "fetch prices instead of sweeping anchors")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *dbPath, *fetchRates); err != nil {
		log.Fatalf("zakatsync: %v", err)
	}
}

func run(ctx context.Context, configPath, dbPath string, fetchRates bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if fetchRates {
		// The command is the explicit opt-in; enabled flags gate only the
		// scheduler.
		cfg.Rates.FXEnabled = true
		cfg.Rates.MetalsEnabled = cfg.Rates.MetalsProvider != ""
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if fetchRates {
		if a.Refresher == nil {
			return fmt.Errorf("no price provider configured")
		}
		result, err := a.Refresher.Refresh(ctx)
		logger.Info("price refresh finished",
			zap.Int("fx_rates", result.FXRates),
			zap.Int("metal_prices", result.MetalPrices))
		return err
	}

	result, err := a.Sweeper.Run(ctx)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d users failed", result.Failed, result.Users)
	}
	return nil
}
