/*
main.go - HTTP server entry point

PURPOSE:
  Starts the Zakati API: ledger, zakat anchors, reminders and reports over
  SQLite, plus the background sweep and price refresh.

STARTUP SEQUENCE:
  1. Load configuration (file, ZAKATI_* env, then flags)
  2. Build the zap logger
  3. Open the SQLite store and wire the domain packages
  4. Start the scheduler
  5. Serve the chi router until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP port, overrides server.port
  -db      SQLite path, overrides database.path (":memory:" for tests)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight sweep)
  2. Stop accepting connections and drain requests (server.shutdown_timeout)
  3. Close the database

EXAMPLES:
  ./server -config=./config.yml
  ZAKATI_RATES_FX_ENABLED=true ./server -db=./data/zakati.db

SEE ALSO:
  - app/app.go:       object graph
  - api/server.go:    router configuration
  - config/config.go: keys and defaults
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Eiad-Soufan/zakati-backend/api"
	"github.com/Eiad-Soufan/zakati-backend/app"
	"github.com/Eiad-Soufan/zakati-backend/config"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port, *dbPath); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(configPath, port, dbPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
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

	scheduler := a.Scheduler()
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(a.Handler(), cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.Bool("zakat_test_mode", cfg.Zakat.TestMode),
			zap.Bool("price_refresh", a.Refresher != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
