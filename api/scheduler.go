/*
scheduler.go - Periodic anchor sweep and price refresh

PURPOSE:
  Runs the zakat sweep and the price refresh in the background so anchors
  move and reminders go out even when users never open the app.

DESIGN:
  - One goroutine per job, each with its own ticker
  - Both jobs run once immediately on Start, prices first, so the first
    sweep sees fresh rates
  - A job that is still running when its ticker fires is not started twice
  - Stop cancels the in-flight run and waits for both goroutines

CONFIGURATION:
  - SweepInterval:   how often every user is evaluated (default: 1 hour)
  - RefreshInterval: how often prices are fetched (default: 1 hour)
  - A nil Refresher disables the refresh job

USAGE:
  s := NewScheduler(sweeper, refresher, logger)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go:   TriggerSweep / TriggerRefresh (manual runs)
  - zakat/sweep.go: the batch itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/pricefeed"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"go.uber.org/zap"
)

// Scheduler drives Sweeper and Refresher on fixed intervals.
type Scheduler struct {
	Sweeper         *zakat.Sweeper
	Refresher       *pricefeed.Refresher
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	Logger          *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	sweepMu sync.Mutex
	priceMu sync.Mutex
}

// NewScheduler creates a scheduler with hourly defaults.
func NewScheduler(sweeper *zakat.Sweeper, refresher *pricefeed.Refresher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Sweeper:         sweeper,
		Refresher:       refresher,
		SweepInterval:   time.Hour,
		RefreshInterval: time.Hour,
		Logger:          logger,
	}
}

// Start launches the background jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	ready := make(chan struct{})
	if s.Refresher != nil && s.RefreshInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.RefreshInterval, s.RunRefresh, ready)
	} else {
		close(ready)
	}
	if s.Sweeper != nil && s.SweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			select {
			case <-ready:
			case <-ctx.Done():
			}
			s.loop(ctx, s.SweepInterval, s.RunSweep, nil)
		}()
	}

	s.Logger.Info("scheduler started",
		zap.Duration("sweep_interval", s.SweepInterval),
		zap.Duration("refresh_interval", s.RefreshInterval),
		zap.Bool("refresh_enabled", s.Refresher != nil))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.Logger.Info("scheduler stopped")
}

// loop runs job now, closes done (if any), then runs job on every tick.
func (s *Scheduler) loop(ctx context.Context, every time.Duration, job func(context.Context), done chan struct{}) {
	defer s.wg.Done()

	job(ctx)
	if done != nil {
		close(done)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			job(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunSweep evaluates every user once. Concurrent calls are skipped while a
// sweep is in flight.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if !s.sweepMu.TryLock() {
		s.Logger.Warn("zakat sweep already running, skipping")
		return
	}
	defer s.sweepMu.Unlock()

	if _, err := s.Sweeper.Run(ctx); err != nil {
		s.Logger.Error("scheduled zakat sweep failed", zap.Error(err))
	}
}

// RunRefresh fetches prices once.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	if !s.priceMu.TryLock() {
		s.Logger.Warn("price refresh already running, skipping")
		return
	}
	defer s.priceMu.Unlock()

	result, err := s.Refresher.Refresh(ctx)
	if err != nil {
		s.Logger.Warn("scheduled price refresh incomplete",
			zap.Int("fx_rates", result.FXRates),
			zap.Int("metal_prices", result.MetalPrices),
			zap.Error(err))
	}
}
