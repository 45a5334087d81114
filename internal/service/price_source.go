package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"updown/internal/oracle"
	"updown/internal/repository"
)

// RecordedPriceSource answers price lookups from the locally recorded tick
// stream first and falls back to the oracle's REST API when no fresh enough
// tick exists. A recorded tick is usable when it landed within MaxTickAge
// after the requested instant.
type RecordedPriceSource struct {
	Repo   repository.Repository
	Client *oracle.Client

	MaxTickAge time.Duration
}

func (p *RecordedPriceSource) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	if p == nil {
		return decimal.Decimal{}, errors.New("price source not configured")
	}
	if p.Repo != nil {
		tick, err := p.Repo.GetPriceTickAtOrAfter(ctx, symbol, at)
		if err == nil && tick != nil {
			maxAge := p.MaxTickAge
			if maxAge <= 0 {
				maxAge = 2 * time.Minute
			}
			if !tick.Ts.After(at.Add(maxAge)) {
				return tick.Price, nil
			}
		}
	}
	if p.Client == nil {
		return decimal.Decimal{}, oracle.ErrUnavailable
	}
	return p.Client.PriceAt(ctx, symbol, at)
}
