package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"updown/internal/repository"
)

// ReconciliationService sweeps for resolved trades that have no settlement
// ledger entry, which happens when a process dies between the trade-status
// update and the ledger apply. Re-driving them through the engine is safe:
// the resolved path only replays the missing ledger half.
type ReconciliationService struct {
	Repo   repository.Repository
	Engine *SettlementEngine
	Flags  *SystemSettingsService
	Logger *zap.Logger

	// Grace keeps the sweep from racing a settlement that is mid-flight.
	Grace time.Duration
	Batch int
}

func (s *ReconciliationService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Engine == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureReconciliation, true) {
		return nil
	}
	grace := s.Grace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	batch := s.Batch
	if batch <= 0 || batch > 1000 {
		batch = 100
	}

	cutoff := time.Now().UTC().Add(-grace)
	trades, err := s.Repo.ListResolvedTradesMissingSettlement(ctx, cutoff, batch)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("reconcile scan failed", zap.Error(err))
		}
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	repaired := 0
	for _, trade := range trades {
		if _, err := s.Engine.SettleTrade(ctx, trade.ID); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("reconcile settle failed", zap.String("trade_id", trade.ID), zap.Error(err))
			}
			continue
		}
		repaired++
	}
	if s.Logger != nil {
		s.Logger.Info("reconcile sweep done", zap.Int("found", len(trades)), zap.Int("repaired", repaired))
	}
	return nil
}
