package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"updown/internal/models"
	"updown/internal/oracle"
	"updown/internal/repository"
)

var ErrTradingDisabled = errors.New("trading is disabled")

const (
	MinDurationSeconds = 5
	MaxDurationSeconds = 86400
)

type PlaceTradeParams struct {
	UserID          string
	Symbol          string
	Direction       string
	Stake           decimal.Decimal
	DurationSeconds int
}

// PlacementService opens trades: it captures the entry price from the oracle,
// then creates the pending trade and its stake deduction atomically.
type PlacementService struct {
	Repo   repository.Repository
	Oracle *oracle.Client
	Flags  *SystemSettingsService
	Logger *zap.Logger

	Asset string
}

func (s *PlacementService) PlaceTrade(ctx context.Context, params PlaceTradeParams) (*models.Trade, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("placement service not configured")
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureTrading, true) {
		return nil, ErrTradingDisabled
	}

	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	symbol := strings.TrimSpace(params.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	direction := strings.ToLower(strings.TrimSpace(params.Direction))
	if direction != models.DirectionUp && direction != models.DirectionDown {
		return nil, fmt.Errorf("direction must be %q or %q", models.DirectionUp, models.DirectionDown)
	}
	if !params.Stake.IsPositive() {
		return nil, fmt.Errorf("stake must be positive")
	}
	if params.DurationSeconds < MinDurationSeconds || params.DurationSeconds > MaxDurationSeconds {
		return nil, fmt.Errorf("duration must be between %d and %d seconds", MinDurationSeconds, MaxDurationSeconds)
	}

	entryPrice, err := s.Oracle.Spot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	trade := &models.Trade{
		ID:              uuid.NewString(),
		UserID:          userID,
		Symbol:          symbol,
		Direction:       direction,
		Stake:           params.Stake,
		DurationSeconds: params.DurationSeconds,
		EntryPrice:      entryPrice,
		Status:          models.TradeStatusPending,
		ExpiresAt:       now.Add(time.Duration(params.DurationSeconds) * time.Second),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	meta, _ := json.Marshal(map[string]any{
		"symbol":      symbol,
		"direction":   direction,
		"entry_price": entryPrice.String(),
	})
	referenceID := trade.ID
	stakeTxn := &models.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Asset:       s.Asset,
		Type:        models.TransactionTypeTradeStake,
		Amount:      params.Stake.Neg(),
		ReferenceID: &referenceID,
		Status:      models.TransactionStatusCompleted,
		Metadata:    datatypes.JSON(meta),
	}

	if err := s.Repo.PlaceTrade(ctx, trade, stakeTxn); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("trade placed",
			zap.String("trade_id", trade.ID),
			zap.String("user_id", userID),
			zap.String("symbol", symbol),
			zap.String("direction", direction),
			zap.String("stake", params.Stake.String()),
			zap.Time("expires_at", trade.ExpiresAt),
		)
	}
	return trade, nil
}

// AccountService handles deposits and withdrawals through the same ledger
// path settlement uses, so every balance change has a transaction row.
type AccountService struct {
	Repo   repository.Repository
	Logger *zap.Logger

	Asset string
}

func (s *AccountService) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*models.Transaction, error) {
	return s.apply(ctx, userID, models.TransactionTypeDeposit, amount)
}

func (s *AccountService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*models.Transaction, error) {
	return s.apply(ctx, userID, models.TransactionTypeWithdrawal, amount.Neg())
}

func (s *AccountService) apply(ctx context.Context, userID, txnType string, delta decimal.Decimal) (*models.Transaction, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("account service not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if delta.IsZero() {
		return nil, fmt.Errorf("amount must be positive")
	}

	txn := &models.Transaction{
		ID:     uuid.NewString(),
		UserID: userID,
		Asset:  s.Asset,
		Type:   txnType,
		Amount: delta,
		Status: models.TransactionStatusCompleted,
	}
	if err := s.Repo.ApplyLedgerDelta(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}
