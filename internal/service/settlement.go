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
	"updown/internal/notify"
	"updown/internal/outcome"
	"updown/internal/repository"
)

// PriceSource answers "what was the price of symbol at instant t". The
// settlement engine treats any error from it as transient and leaves the
// trade pending for a later retry.
type PriceSource interface {
	PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

// SettlementEngine resolves expired trades and applies the resulting ledger
// delta. SettleTrade is safe to call any number of times for the same trade,
// from any number of processes: the conditional status update on the trade
// row and the unique (reference_id, type) ledger index together guarantee
// one resolution and one balance credit.
type SettlementEngine struct {
	Repo     repository.Repository
	Prices   PriceSource
	Notifier *notify.Client
	Flags    *SystemSettingsService
	Logger   *zap.Logger

	PayoutRatio decimal.Decimal
	Asset       string
}

func (e *SettlementEngine) SettleTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	if e == nil || e.Repo == nil {
		return nil, fmt.Errorf("settlement engine not configured")
	}
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return nil, fmt.Errorf("trade id is required")
	}

	trade, err := e.Repo.GetTradeByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	// A trade that already left pending must not be re-resolved, but its
	// ledger entry may still be missing if a previous run crashed between
	// the mark and the apply. Re-drive just the ledger half.
	if trade.Resolved() {
		if err := e.ensureLedgerApplied(ctx, trade); err != nil {
			return nil, err
		}
		return trade, nil
	}

	exitPrice, err := e.Prices.PriceAt(ctx, trade.Symbol, trade.ExpiresAt)
	if err != nil {
		return nil, err
	}

	mode := models.OverrideModeNormal
	override, err := e.Repo.GetOutcomeOverride(ctx, trade.UserID)
	if err != nil {
		return nil, err
	}
	if override != nil && models.ValidOverrideMode(override.Mode) {
		mode = override.Mode
	}

	natural := outcome.Natural(trade.EntryPrice, exitPrice, trade.Direction)
	result := outcome.Decide(natural, mode)
	status := outcome.StatusFor(result)
	payout := outcome.Payout(trade.Stake, result, e.PayoutRatio)
	settledAt := time.Now().UTC()

	err = e.Repo.MarkTradeResolved(ctx, trade.ID, status, exitPrice, payout, settledAt)
	if errors.Is(err, repository.ErrAlreadyResolved) {
		// Another worker won the race. Load its resolution and make sure the
		// ledger half completed; never apply our own computed outcome.
		trade, err = e.Repo.GetTradeByID(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		if err := e.ensureLedgerApplied(ctx, trade); err != nil {
			return nil, err
		}
		return trade, nil
	}
	if err != nil {
		return nil, err
	}

	trade.Status = status
	trade.ExitPrice = &exitPrice
	trade.Payout = &payout
	trade.SettledAt = &settledAt

	if err := e.ensureLedgerApplied(ctx, trade); err != nil {
		return nil, err
	}

	if e.Logger != nil {
		e.Logger.Info("trade settled",
			zap.String("trade_id", trade.ID),
			zap.String("user_id", trade.UserID),
			zap.String("status", status),
			zap.String("mode", mode),
			zap.String("exit_price", exitPrice.String()),
			zap.String("payout", payout.String()),
		)
	}

	e.notifySettled(trade)
	return trade, nil
}

// ensureLedgerApplied writes the settlement ledger entry for a resolved
// trade. The amount comes from the trade row itself, not from a recomputed
// outcome, so retries always replay the original resolution. A duplicate is
// success.
func (e *SettlementEngine) ensureLedgerApplied(ctx context.Context, trade *models.Trade) error {
	if trade == nil || !trade.Resolved() {
		return nil
	}

	amount := decimal.Zero
	if trade.Payout != nil {
		amount = *trade.Payout
	}
	txnType := SettlementTransactionType(trade.Status)
	if txnType == "" {
		return fmt.Errorf("trade %s has unexpected status %q", trade.ID, trade.Status)
	}

	meta := map[string]any{
		"symbol":      trade.Symbol,
		"direction":   trade.Direction,
		"stake":       trade.Stake.String(),
		"entry_price": trade.EntryPrice.String(),
	}
	if trade.ExitPrice != nil {
		meta["exit_price"] = trade.ExitPrice.String()
	}
	raw, _ := json.Marshal(meta)

	referenceID := trade.ID
	txn := &models.Transaction{
		ID:          uuid.NewString(),
		UserID:      trade.UserID,
		Asset:       e.Asset,
		Type:        txnType,
		Amount:      amount,
		ReferenceID: &referenceID,
		Status:      models.TransactionStatusCompleted,
		Metadata:    datatypes.JSON(raw),
	}

	err := e.Repo.ApplyLedgerDelta(ctx, txn)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		return nil
	}
	return err
}

func (e *SettlementEngine) notifySettled(trade *models.Trade) {
	if trade == nil || !e.Notifier.Enabled() {
		return
	}
	if e.Flags != nil && !e.Flags.IsEnabled(context.Background(), FeatureNotifications, false) {
		return
	}
	event := notify.SettlementEvent{
		TradeID:    trade.ID,
		UserID:     trade.UserID,
		Symbol:     trade.Symbol,
		Direction:  trade.Direction,
		Status:     trade.Status,
		Stake:      trade.Stake.String(),
		EntryPrice: trade.EntryPrice.String(),
	}
	if trade.Payout != nil {
		event.Payout = trade.Payout.String()
	}
	if trade.ExitPrice != nil {
		event.ExitPrice = trade.ExitPrice.String()
	}
	if trade.SettledAt != nil {
		event.SettledAt = trade.SettledAt.UTC().Format(time.RFC3339)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Notifier.SendSettlement(ctx, event); err != nil && e.Logger != nil {
			e.Logger.Warn("settlement notify failed", zap.String("trade_id", event.TradeID), zap.Error(err))
		}
	}()
}

// SettlementTransactionType maps a terminal trade status to its ledger entry
// type. Empty for non-terminal statuses.
func SettlementTransactionType(status string) string {
	switch status {
	case models.TradeStatusResolvedWin:
		return models.TransactionTypeTradeWin
	case models.TradeStatusResolvedLose:
		return models.TransactionTypeTradeLoss
	case models.TradeStatusResolvedVoid:
		return models.TransactionTypeTradeVoid
	}
	return ""
}

// SettlementTransactionTypes lists every ledger entry type a settlement can
// produce. The reconciliation query uses it to find resolved trades whose
// ledger half never landed.
func SettlementTransactionTypes() []string {
	return []string{
		models.TransactionTypeTradeWin,
		models.TransactionTypeTradeLoss,
		models.TransactionTypeTradeVoid,
	}
}
