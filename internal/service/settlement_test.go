package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"updown/internal/models"
	"updown/internal/oracle"
)

type stubPrices struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (p *stubPrices) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return decimal.Decimal{}, p.err
	}
	return p.price, nil
}

func newTestEngine(repo *stubRepo, prices PriceSource) *SettlementEngine {
	return &SettlementEngine{
		Repo:        repo,
		Prices:      prices,
		PayoutRatio: decimal.NewFromFloat(0.8),
		Asset:       "USDT",
	}
}

func newPendingTrade(userID string, direction string, stake int64, entry string) *models.Trade {
	entryPrice, _ := decimal.NewFromString(entry)
	now := time.Now().UTC()
	return &models.Trade{
		ID:              uuid.NewString(),
		UserID:          userID,
		Symbol:          "BTCUSDT",
		Direction:       direction,
		Stake:           decimal.NewFromInt(stake),
		DurationSeconds: 60,
		EntryPrice:      entryPrice,
		Status:          models.TradeStatusPending,
		ExpiresAt:       now.Add(-time.Second),
		CreatedAt:       now.Add(-time.Minute),
	}
}

func TestSettleTradeWin(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(110)})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedWin {
		t.Fatalf("status = %q, want %q", settled.Status, models.TradeStatusResolvedWin)
	}
	if settled.Payout == nil || !settled.Payout.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("payout = %v, want 180", settled.Payout)
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want 180", got)
	}
	txn, err := repo.GetSettlementTransaction(context.Background(), trade.ID)
	if err != nil || txn == nil {
		t.Fatalf("settlement txn missing: %v", err)
	}
	if txn.Type != models.TransactionTypeTradeWin {
		t.Fatalf("txn type = %q, want %q", txn.Type, models.TransactionTypeTradeWin)
	}
	if !txn.Amount.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("txn amount = %s, want 180", txn.Amount)
	}
}

func TestSettleTradeLose(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(90)})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedLose {
		t.Fatalf("status = %q, want %q", settled.Status, models.TradeStatusResolvedLose)
	}
	if got := repo.available("u1", "USDT"); !got.IsZero() {
		t.Fatalf("balance = %s, want 0", got)
	}
	// A loss still produces an audit ledger row with a zero amount.
	txn, _ := repo.GetSettlementTransaction(context.Background(), trade.ID)
	if txn == nil {
		t.Fatal("loss should write a zero-amount ledger row")
	}
	if txn.Type != models.TransactionTypeTradeLoss || !txn.Amount.IsZero() {
		t.Fatalf("txn = %q/%s, want trade_loss/0", txn.Type, txn.Amount)
	}
}

func TestSettleTradePushRefundsStake(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionDown, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(100)})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedVoid {
		t.Fatalf("status = %q, want %q", settled.Status, models.TradeStatusResolvedVoid)
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want refund 100", got)
	}
}

func TestSettleTradeForcedWinBeatsPush(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	if err := repo.UpsertOutcomeOverride(context.Background(), &models.OutcomeOverride{
		UserID: "u1",
		Mode:   models.OverrideModeForcedWin,
	}); err != nil {
		t.Fatalf("upsert override: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(100)})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedWin {
		t.Fatalf("status = %q, want forced win over push", settled.Status)
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want 180", got)
	}
}

func TestSettleTradeForcedLoseBeatsMarketWin(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	if err := repo.UpsertOutcomeOverride(context.Background(), &models.OutcomeOverride{
		UserID: "u1",
		Mode:   models.OverrideModeForcedLose,
	}); err != nil {
		t.Fatalf("upsert override: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(150)})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedLose {
		t.Fatalf("status = %q, want forced lose over market win", settled.Status)
	}
	if got := repo.available("u1", "USDT"); !got.IsZero() {
		t.Fatalf("balance = %s, want 0", got)
	}
}

func TestSettleTradeOracleUnavailableLeavesPending(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{err: oracle.ErrUnavailable})

	_, err := engine.SettleTrade(context.Background(), trade.ID)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	reloaded, _ := repo.GetTradeByID(context.Background(), trade.ID)
	if reloaded.Status != models.TradeStatusPending {
		t.Fatalf("status = %q, trade must stay pending on oracle failure", reloaded.Status)
	}
	if repo.settlementTxnCount(trade.ID) != 0 {
		t.Fatal("no ledger entry may exist for an unsettled trade")
	}
}

func TestSettleTradeConcurrentCreditsOnce(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{price: decimal.NewFromInt(110)})

	const workers = 25
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.SettleTrade(context.Background(), trade.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if got := repo.settlementTxnCount(trade.ID); got != 1 {
		t.Fatalf("settlement txn count = %d, want exactly 1", got)
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want exactly one 180 credit", got)
	}
}

func TestSettleTradeRetryIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	prices := &stubPrices{price: decimal.NewFromInt(110)}
	engine := newTestEngine(repo, prices)

	first, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if first.Status != second.Status {
		t.Fatalf("retry changed status: %q vs %q", first.Status, second.Status)
	}
	if repo.settlementTxnCount(trade.ID) != 1 {
		t.Fatal("retry must not add a second ledger entry")
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want 180", got)
	}
	// The second call must not refetch a price for a resolved trade.
	if prices.calls != 1 {
		t.Fatalf("price calls = %d, want 1", prices.calls)
	}
}

func TestSettleTradeRepairsMissingLedgerEntry(t *testing.T) {
	repo := newStubRepo()
	trade := newPendingTrade("u1", models.DirectionUp, 100, "100")
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	// Simulate a crash after the status transition but before the ledger
	// apply: the trade is resolved with a stored payout and no transaction.
	exit := decimal.NewFromInt(110)
	payout := decimal.NewFromInt(180)
	if err := repo.MarkTradeResolved(context.Background(), trade.ID, models.TradeStatusResolvedWin, exit, payout, time.Now().UTC()); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
	engine := newTestEngine(repo, &stubPrices{err: oracle.ErrUnavailable})

	settled, err := engine.SettleTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != models.TradeStatusResolvedWin {
		t.Fatalf("status = %q, want stored resolution kept", settled.Status)
	}
	if repo.settlementTxnCount(trade.ID) != 1 {
		t.Fatal("repair must write the missing ledger entry")
	}
	if got := repo.available("u1", "USDT"); !got.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want 180", got)
	}
}

func TestSettlementTransactionTypeMapping(t *testing.T) {
	cases := map[string]string{
		models.TradeStatusResolvedWin:  models.TransactionTypeTradeWin,
		models.TradeStatusResolvedLose: models.TransactionTypeTradeLoss,
		models.TradeStatusResolvedVoid: models.TransactionTypeTradeVoid,
		models.TradeStatusPending:      "",
	}
	for status, want := range cases {
		if got := SettlementTransactionType(status); got != want {
			t.Fatalf("SettlementTransactionType(%q) = %q, want %q", status, got, want)
		}
	}
}
