package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"updown/internal/models"
	"updown/internal/oracle"
	"updown/internal/repository"
)

// TickRecorderService persists the oracle's streamed ticks so settlement can
// read the expiry price locally instead of calling the oracle's REST API.
type TickRecorderService struct {
	Repo   repository.Repository
	Stream *oracle.TickStream
	Flags  *SystemSettingsService
	Logger *zap.Logger

	Retention time.Duration
}

func (s *TickRecorderService) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Stream == nil {
		return nil
	}
	return s.Stream.Run(ctx, func(tick oracle.Tick) {
		s.record(ctx, tick)
	})
}

func (s *TickRecorderService) record(ctx context.Context, tick oracle.Tick) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureTickRecorder, true) {
		return
	}
	item := &models.PriceTick{
		Symbol: tick.Symbol,
		Price:  tick.Price,
		Ts:     tick.Ts,
	}
	if err := s.Repo.InsertPriceTick(ctx, item); err != nil && s.Logger != nil {
		s.Logger.Warn("insert price tick failed", zap.String("symbol", tick.Symbol), zap.Error(err))
	}
}

// PruneOnce deletes ticks older than the retention window.
func (s *TickRecorderService) PruneOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	retention := s.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	deleted, err := s.Repo.DeletePriceTicksBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("prune price ticks failed", zap.Error(err))
		}
		return err
	}
	if deleted > 0 && s.Logger != nil {
		s.Logger.Info("pruned price ticks", zap.Int64("deleted", deleted))
	}
	return nil
}
