package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"updown/internal/models"
	"updown/internal/oracle"
)

func TestRecordedPriceSourceUsesFreshTick(t *testing.T) {
	repo := newStubRepo()
	at := time.Now().UTC().Add(-time.Minute)
	if err := repo.InsertPriceTick(context.Background(), &models.PriceTick{
		Symbol: "BTCUSDT",
		Price:  decimal.NewFromInt(111),
		Ts:     at.Add(5 * time.Second),
	}); err != nil {
		t.Fatalf("insert tick: %v", err)
	}
	src := &RecordedPriceSource{Repo: repo, MaxTickAge: time.Minute}

	price, err := src.PriceAt(context.Background(), "BTCUSDT", at)
	if err != nil {
		t.Fatalf("price at: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(111)) {
		t.Fatalf("price = %s, want recorded 111", price)
	}
}

func TestRecordedPriceSourceRejectsStaleTick(t *testing.T) {
	repo := newStubRepo()
	at := time.Now().UTC().Add(-time.Hour)
	// Only tick for the symbol is far after the requested instant.
	if err := repo.InsertPriceTick(context.Background(), &models.PriceTick{
		Symbol: "BTCUSDT",
		Price:  decimal.NewFromInt(999),
		Ts:     at.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("insert tick: %v", err)
	}
	// No REST fallback configured: a stale tick must surface unavailability,
	// not a wrong price.
	src := &RecordedPriceSource{Repo: repo, MaxTickAge: time.Minute}

	_, err := src.PriceAt(context.Background(), "BTCUSDT", at)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRecordedPriceSourceIgnoresTicksBeforeInstant(t *testing.T) {
	repo := newStubRepo()
	at := time.Now().UTC()
	if err := repo.InsertPriceTick(context.Background(), &models.PriceTick{
		Symbol: "BTCUSDT",
		Price:  decimal.NewFromInt(100),
		Ts:     at.Add(-time.Second),
	}); err != nil {
		t.Fatalf("insert tick: %v", err)
	}
	src := &RecordedPriceSource{Repo: repo, MaxTickAge: time.Minute}

	_, err := src.PriceAt(context.Background(), "BTCUSDT", at)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("err = %v, pre-expiry ticks must not settle the trade", err)
	}
}
