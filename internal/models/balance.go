package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the current available/locked funds for one (user, asset) pair.
// Available must never go negative; the repository enforces this on every delta.
type Balance struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_balances_user_asset"`
	Asset  string `gorm:"type:varchar(32);not null;uniqueIndex:idx_balances_user_asset"`

	Available decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Locked    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Balance) TableName() string {
	return "balances"
}
