package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Trade lifecycle statuses. A trade leaves "pending" exactly once and never
// returns; resolved rows are append-only audit data and are never deleted.
const (
	TradeStatusPending      = "pending"
	TradeStatusResolvedWin  = "resolved_win"
	TradeStatusResolvedLose = "resolved_lose"
	TradeStatusResolvedVoid = "resolved_void"
)

type Trade struct {
	ID     string `gorm:"type:varchar(64);primaryKey"`
	UserID string `gorm:"type:varchar(64);not null;index"`

	Symbol    string `gorm:"type:varchar(32);not null;index"`
	Direction string `gorm:"type:varchar(8);not null"`

	Stake           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	DurationSeconds int             `gorm:"not null"`

	EntryPrice decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	ExitPrice  *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Payout     *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Status string `gorm:"type:varchar(16);not null;default:'pending';index:idx_trades_status_expiry"`

	ExpiresAt time.Time  `gorm:"type:timestamptz;not null;index:idx_trades_status_expiry"`
	SettledAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Trade) TableName() string {
	return "trades"
}

func (t Trade) Resolved() bool {
	return t.Status != TradeStatusPending
}
