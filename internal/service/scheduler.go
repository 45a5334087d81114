package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"updown/internal/config"
	"updown/internal/oracle"
	"updown/internal/repository"
)

// TradeScheduler polls for pending trades whose expiry has passed and hands
// each one to the settlement engine. The in-flight set stops one process from
// settling the same trade twice concurrently; across processes the engine's
// conditional update is the guard, so running several schedulers is safe.
type TradeScheduler struct {
	Repo   repository.Repository
	Engine *SettlementEngine
	Flags  *SystemSettingsService
	Config config.SchedulerConfig
	Logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func (s *TradeScheduler) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Engine == nil {
		return nil
	}
	interval := s.Config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	// Run once on start.
	s.pollOnceIfEnabled(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.pollOnceIfEnabled(ctx)
		}
	}
}

func (s *TradeScheduler) pollOnceIfEnabled(ctx context.Context) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureScheduler, true) {
		return
	}
	s.PollOnce(ctx)
}

// PollOnce scans one batch of expired pending trades and settles them. Each
// trade runs in its own goroutine with its own timeout so one slow oracle
// call cannot stall the batch.
func (s *TradeScheduler) PollOnce(ctx context.Context) {
	batch := s.Config.BatchSize
	if batch <= 0 || batch > 1000 {
		batch = 100
	}
	trades, err := s.Repo.ListExpiredPendingTrades(ctx, time.Now().UTC(), batch)
	if err != nil {
		s.logWarn("list expired trades failed", err)
		return
	}
	for _, trade := range trades {
		tradeID := trade.ID
		if !s.acquire(tradeID) {
			continue
		}
		go func() {
			defer s.release(tradeID)
			timeout := s.Config.SettleTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			settleCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := s.Engine.SettleTrade(settleCtx, tradeID); err != nil {
				// Oracle outages are expected; the trade stays pending and the
				// next poll retries it.
				if errors.Is(err, oracle.ErrUnavailable) {
					s.logWarn("settle deferred, oracle unavailable", err, zap.String("trade_id", tradeID))
					return
				}
				s.logWarn("settle failed", err, zap.String("trade_id", tradeID))
			}
		}()
	}
}

func (s *TradeScheduler) acquire(tradeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = map[string]struct{}{}
	}
	if _, ok := s.inFlight[tradeID]; ok {
		return false
	}
	s.inFlight[tradeID] = struct{}{}
	return true
}

func (s *TradeScheduler) release(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, tradeID)
}

func (s *TradeScheduler) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
