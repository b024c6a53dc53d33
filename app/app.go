// Package app builds the service's object graph from a Config. Both the
// HTTP server and the one-shot zakatsync command start from New.
package app

import (
	"fmt"

	"github.com/Eiad-Soufan/zakati-backend/api"
	"github.com/Eiad-Soufan/zakati-backend/config"
	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/pricefeed"
	"github.com/Eiad-Soufan/zakati-backend/report"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/store/sqlite"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"go.uber.org/zap"
)

// App holds every long-lived component. Close releases the store.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Store     *sqlite.Store
	Ledger    *ledger.Ledger
	Valuation *valuation.Pipeline
	Engine    *zakat.Engine
	Reports   *report.Reporter
	Snapshots *snapshot.Builder
	Sweeper   *zakat.Sweeper
	Refresher *pricefeed.Refresher // nil when no provider is enabled
}

// New opens the store and wires the domain packages over it.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	zakatCfg, err := cfg.Zakat.EngineConfig()
	if err != nil {
		return nil, err
	}
	fx, metals, err := cfg.Rates.Providers()
	if err != nil {
		return nil, fmt.Errorf("failed to configure price providers: %w", err)
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	metrics := observability.NewMetrics()

	l := ledger.NewLedger(store)
	l.Logger = logger.Named("ledger")
	l.Metrics = metrics

	pipeline := valuation.NewPipeline(store)

	emitter := zakat.NewEmitter(store, zakatCfg)
	emitter.Logger = logger.Named("reminders")
	emitter.Metrics = metrics

	engine := &zakat.Engine{
		Holdings:  l,
		Valuation: pipeline,
		Settings:  store,
		Anchors:   store,
		Reminders: emitter,
		Config:    zakatCfg,
		Logger:    logger.Named("zakat"),
		Metrics:   metrics,
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Store:     store,
		Ledger:    l,
		Valuation: pipeline,
		Engine:    engine,
		Reports: &report.Reporter{
			Ledger:    l,
			Valuation: pipeline,
			Settings:  store,
			Engine:    engine,
			Anchors:   store,
		},
		Snapshots: &snapshot.Builder{
			Ledger:        l,
			Settings:      store,
			Notifications: store,
			Versions:      store,
		},
		Sweeper: &zakat.Sweeper{
			Engine:      engine,
			Users:       store,
			Concurrency: cfg.Sweep.Concurrency,
			Logger:      logger.Named("sweep"),
			Metrics:     metrics,
		},
	}

	if fx != nil || metals != nil {
		a.Refresher = &pricefeed.Refresher{
			FX:           fx,
			Metals:       metals,
			Writer:       store,
			BaseCurrency: cfg.Rates.BaseCurrency,
			Targets:      cfg.Rates.Targets,
			Logger:       logger.Named("pricefeed"),
			Metrics:      metrics,
		}
	}
	return a, nil
}

// Handler returns the HTTP handler set over this app.
func (a *App) Handler() *api.Handler {
	return &api.Handler{
		Ledger:        a.Ledger,
		Valuation:     a.Valuation,
		Settings:      a.Store,
		Engine:        a.Engine,
		Reports:       a.Reports,
		Notifications: a.Store,
		Snapshots:     a.Snapshots,
		Sweeper:       a.Sweeper,
		Refresher:     a.Refresher,
		DB:            a.Store,
		Logger:        a.Logger.Named("http"),
		Metrics:       a.Metrics,
	}
}

// Scheduler returns a scheduler using the configured intervals.
func (a *App) Scheduler() *api.Scheduler {
	s := api.NewScheduler(a.Sweeper, a.Refresher, a.Logger.Named("scheduler"))
	s.SweepInterval = a.Config.Sweep.Interval
	s.RefreshInterval = a.Config.Rates.RefreshInterval
	return s
}

func (a *App) Close() error {
	return a.Store.Close()
}
