package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"updown/internal/models"
	"updown/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It reproduces the store's concurrency contracts behind one mutex: the
// pending-only status transition, the unique (reference_id, type) ledger key
// and the non-negative balance guard.
type stubRepo struct {
	mu sync.Mutex

	trades    map[string]models.Trade
	balances  map[string]decimal.Decimal
	txns      []models.Transaction
	txnKeys   map[string]struct{}
	overrides map[string]models.OutcomeOverride
	ticks     []models.PriceTick
	settings  map[string]models.SystemSetting
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		trades:    map[string]models.Trade{},
		balances:  map[string]decimal.Decimal{},
		txnKeys:   map[string]struct{}{},
		overrides: map[string]models.OutcomeOverride{},
		settings:  map[string]models.SystemSetting{},
	}
}

func balanceKey(userID, asset string) string {
	return userID + "|" + asset
}

func txnKey(referenceID, txnType string) string {
	return referenceID + "|" + txnType
}

func (s *stubRepo) CreateTrade(ctx context.Context, item *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTradeLocked(item)
}

func (s *stubRepo) createTradeLocked(item *models.Trade) error {
	if _, ok := s.trades[item.ID]; ok {
		return repository.ErrDuplicateTrade
	}
	s.trades[item.ID] = *item
	return nil
}

func (s *stubRepo) GetTradeByID(ctx context.Context, id string) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.trades[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := item
	return &out, nil
}

func (s *stubRepo) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, item := range s.trades {
		if params.UserID != nil && item.UserID != *params.UserID {
			continue
		}
		if params.Symbol != nil && item.Symbol != *params.Symbol {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *stubRepo) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	items, _ := s.ListTrades(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListExpiredPendingTrades(ctx context.Context, before time.Time, limit int) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, item := range s.trades {
		if item.Status != models.TradeStatusPending {
			continue
		}
		if item.ExpiresAt.After(before) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) MarkTradeResolved(ctx context.Context, id string, status string, exitPrice, payout decimal.Decimal, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.trades[id]
	if !ok {
		return repository.ErrNotFound
	}
	if item.Status != models.TradeStatusPending {
		return repository.ErrAlreadyResolved
	}
	item.Status = status
	item.ExitPrice = &exitPrice
	item.Payout = &payout
	item.SettledAt = &settledAt
	s.trades[id] = item
	return nil
}

func (s *stubRepo) ListResolvedTradesMissingSettlement(ctx context.Context, settledBefore time.Time, limit int) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, item := range s.trades {
		if item.Status == models.TradeStatusPending || item.SettledAt == nil {
			continue
		}
		if item.SettledAt.After(settledBefore) {
			continue
		}
		settled := false
		for _, txnType := range SettlementTransactionTypes() {
			if _, ok := s.txnKeys[txnKey(item.ID, txnType)]; ok {
				settled = true
				break
			}
		}
		if settled {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) ApplyLedgerDelta(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLedgerDeltaLocked(txn)
}

func (s *stubRepo) applyLedgerDeltaLocked(txn *models.Transaction) error {
	if txn.ReferenceID != nil {
		key := txnKey(*txn.ReferenceID, txn.Type)
		if _, ok := s.txnKeys[key]; ok {
			return repository.ErrDuplicateTransaction
		}
		s.txnKeys[key] = struct{}{}
	}
	balKey := balanceKey(txn.UserID, txn.Asset)
	next := s.balances[balKey].Add(txn.Amount)
	if next.IsNegative() {
		if txn.ReferenceID != nil {
			delete(s.txnKeys, txnKey(*txn.ReferenceID, txn.Type))
		}
		return repository.ErrInsufficientFunds
	}
	s.balances[balKey] = next
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	s.txns = append(s.txns, *txn)
	return nil
}

func (s *stubRepo) PlaceTrade(ctx context.Context, trade *models.Trade, stakeTxn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createTradeLocked(trade); err != nil {
		return err
	}
	if err := s.applyLedgerDeltaLocked(stakeTxn); err != nil {
		delete(s.trades, trade.ID)
		return err
	}
	return nil
}

func (s *stubRepo) GetBalance(ctx context.Context, userID, asset string) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	available, ok := s.balances[balanceKey(userID, asset)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.Balance{UserID: userID, Asset: asset, Available: available}, nil
}

func (s *stubRepo) ListBalances(ctx context.Context, userID string) ([]models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Balance
	for key, available := range s.balances {
		parts := strings.SplitN(key, "|", 2)
		if parts[0] != userID {
			continue
		}
		out = append(out, models.Balance{UserID: userID, Asset: parts[1], Available: available})
	}
	return out, nil
}

func (s *stubRepo) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, txn := range s.txns {
		if params.UserID != nil && txn.UserID != *params.UserID {
			continue
		}
		if params.Type != nil && txn.Type != *params.Type {
			continue
		}
		if params.ReferenceID != nil && (txn.ReferenceID == nil || *txn.ReferenceID != *params.ReferenceID) {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (s *stubRepo) GetSettlementTransaction(ctx context.Context, tradeID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.txns {
		if txn.ReferenceID == nil || *txn.ReferenceID != tradeID {
			continue
		}
		for _, txnType := range SettlementTransactionTypes() {
			if txn.Type == txnType {
				out := txn
				return &out, nil
			}
		}
	}
	return nil, nil
}

func (s *stubRepo) GetOutcomeOverride(ctx context.Context, userID string) (*models.OutcomeOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.overrides[userID]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (s *stubRepo) UpsertOutcomeOverride(ctx context.Context, item *models.OutcomeOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[item.UserID] = *item
	return nil
}

func (s *stubRepo) InsertPriceTick(ctx context.Context, item *models.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, *item)
	return nil
}

func (s *stubRepo) GetPriceTickAtOrAfter(ctx context.Context, symbol string, at time.Time) (*models.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PriceTick
	for i := range s.ticks {
		tick := s.ticks[i]
		if tick.Symbol != symbol || tick.Ts.Before(at) {
			continue
		}
		if best == nil || tick.Ts.Before(best.Ts) {
			out := tick
			best = &out
		}
	}
	return best, nil
}

func (s *stubRepo) ListPriceTicks(ctx context.Context, params repository.ListPriceTicksParams) ([]models.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceTick
	for _, tick := range s.ticks {
		if params.Symbol != nil && tick.Symbol != *params.Symbol {
			continue
		}
		if params.Since != nil && tick.Ts.Before(*params.Since) {
			continue
		}
		out = append(out, tick)
	}
	return out, nil
}

func (s *stubRepo) DeletePriceTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.PriceTick
	var deleted int64
	for _, tick := range s.ticks {
		if tick.Ts.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, tick)
	}
	s.ticks = kept
	return deleted, nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[item.Key] = *item
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range s.settings {
		if params.Prefix != nil && !strings.HasPrefix(item.Key, *params.Prefix) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// settlementTxnCount counts settlement ledger entries referencing a trade.
func (s *stubRepo) settlementTxnCount(tradeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, txn := range s.txns {
		if txn.ReferenceID == nil || *txn.ReferenceID != tradeID {
			continue
		}
		for _, txnType := range SettlementTransactionTypes() {
			if txn.Type == txnType {
				count++
			}
		}
	}
	return count
}

func (s *stubRepo) available(userID, asset string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey(userID, asset)]
}

var _ repository.Repository = (*stubRepo)(nil)
