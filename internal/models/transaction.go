package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeTradeStake = "trade_stake"
	TransactionTypeTradeWin   = "trade_win"
	TransactionTypeTradeLoss  = "trade_loss"
	TransactionTypeTradeVoid  = "trade_void"
)

const TransactionStatusCompleted = "completed"

// Transaction is one ledger entry. Amount is the signed delta applied to the
// user's available balance. The unique (reference_id, type) pair is what makes
// a retried settlement delta a no-op instead of a double credit.
type Transaction struct {
	ID     string `gorm:"type:varchar(64);primaryKey"`
	UserID string `gorm:"type:varchar(64);not null;index"`
	Asset  string `gorm:"type:varchar(32);not null"`

	Type   string          `gorm:"type:varchar(20);not null;index;uniqueIndex:idx_transactions_ref_type"`
	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// ReferenceID links a settlement entry back to its trade. Nil for
	// deposits and withdrawals (Postgres allows repeated NULLs under the
	// unique index).
	ReferenceID *string `gorm:"type:varchar(64);uniqueIndex:idx_transactions_ref_type"`

	Status   string         `gorm:"type:varchar(16);not null;default:'completed'"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Transaction) TableName() string {
	return "transactions"
}
