package zakat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSweepConcurrency bounds parallel user evaluations.
const DefaultSweepConcurrency = 4

// Sweeper evaluates every user. One user's failure is logged and counted;
// it never stops the rest of the batch.
type Sweeper struct {
	Engine      *Engine
	Users       UserLister
	Concurrency int
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Users     int
	Succeeded int
	Failed    int
	Reminders int
	Failures  map[ledger.UserID]string
	Duration  time.Duration
}

func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	users, err := s.Users.ListUsers(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list users: %w", err)
	}

	result := SweepResult{Users: len(users), Failures: make(map[ledger.UserID]string)}
	var mu sync.Mutex

	limit := s.Concurrency
	if limit < 1 {
		limit = DefaultSweepConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, userID := range users {
		g.Go(func() error {
			ev, err := s.Engine.Evaluate(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Failures[userID] = err.Error()
				s.Metrics.IncrSweepUser("failed")
				logger.Error("zakat sweep: user failed",
					zap.String("user_id", string(userID)),
					zap.Error(err))
				return nil
			}
			result.Succeeded++
			result.Reminders += len(ev.Notifications)
			s.Metrics.IncrSweepUser("ok")
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	s.Metrics.RecordSweepDuration(result.Duration)
	logger.Info("zakat sweep completed",
		zap.Int("users", result.Users),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("reminders", result.Reminders),
		zap.Duration("duration", result.Duration))

	return result, ctx.Err()
}
