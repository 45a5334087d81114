package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"updown/internal/models"
)

// Sentinel errors shared by every Repository implementation. Callers match
// with errors.Is; the settlement engine treats ErrAlreadyResolved and
// ErrDuplicateTransaction as idempotent no-ops.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateTrade       = errors.New("duplicate trade id")
	ErrAlreadyResolved      = errors.New("trade already resolved")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)

// Repository is the durable store behind the settlement core: trades with
// their state-transition guard, the balance/transaction ledger, per-user
// outcome overrides, recorded oracle ticks and runtime settings.
type Repository interface {
	// Trades.
	CreateTrade(ctx context.Context, item *models.Trade) error
	GetTradeByID(ctx context.Context, id string) (*models.Trade, error)
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	CountTrades(ctx context.Context, params ListTradesParams) (int64, error)

	// ListExpiredPendingTrades returns pending trades whose expiry is at or
	// before the given instant, oldest expiry first.
	ListExpiredPendingTrades(ctx context.Context, before time.Time, limit int) ([]models.Trade, error)

	// MarkTradeResolved transitions exactly one trade out of "pending" via a
	// conditional update. It returns ErrAlreadyResolved when the trade exists
	// but is no longer pending; that is the cross-process double-settlement
	// guard.
	MarkTradeResolved(ctx context.Context, id string, status string, exitPrice, payout decimal.Decimal, settledAt time.Time) error

	// ListResolvedTradesMissingSettlement returns trades that are resolved
	// but have no settlement ledger entry yet (crash between the mark and
	// the ledger apply).
	ListResolvedTradesMissingSettlement(ctx context.Context, settledBefore time.Time, limit int) ([]models.Trade, error)

	// Ledger. ApplyLedgerDelta inserts the transaction record and adjusts the
	// (user, asset) available balance by txn.Amount as one all-or-nothing
	// operation. A repeat of an already-recorded transaction returns
	// ErrDuplicateTransaction without touching the balance; a delta that
	// would drive the balance negative returns ErrInsufficientFunds.
	ApplyLedgerDelta(ctx context.Context, txn *models.Transaction) error

	// PlaceTrade creates a pending trade and applies its stake deduction in
	// one transaction, so a failed stake reservation leaves no trade behind.
	PlaceTrade(ctx context.Context, trade *models.Trade, stakeTxn *models.Transaction) error

	GetBalance(ctx context.Context, userID, asset string) (*models.Balance, error)
	ListBalances(ctx context.Context, userID string) ([]models.Balance, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	GetSettlementTransaction(ctx context.Context, tradeID string) (*models.Transaction, error)

	// Outcome overrides. Get returns nil (not ErrNotFound) when unset; the
	// caller defaults to normal mode.
	GetOutcomeOverride(ctx context.Context, userID string) (*models.OutcomeOverride, error)
	UpsertOutcomeOverride(ctx context.Context, item *models.OutcomeOverride) error

	// Price ticks.
	InsertPriceTick(ctx context.Context, item *models.PriceTick) error
	GetPriceTickAtOrAfter(ctx context.Context, symbol string, at time.Time) (*models.PriceTick, error)
	ListPriceTicks(ctx context.Context, params ListPriceTicksParams) ([]models.PriceTick, error)
	DeletePriceTicksBefore(ctx context.Context, before time.Time) (int64, error)

	// System settings.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListTradesParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Symbol  *string
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListTransactionsParams struct {
	Limit       int
	Offset      int
	UserID      *string
	Type        *string
	ReferenceID *string
	Since       *time.Time
	OrderBy     string
	Asc         *bool
}

type ListPriceTicksParams struct {
	Limit  int
	Offset int
	Symbol *string
	Since  *time.Time
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
