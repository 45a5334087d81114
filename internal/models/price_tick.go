package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is one observed oracle price. Recorded by the tick stream and
// consulted by settlement before falling back to the oracle REST API.
type PriceTick struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol string `gorm:"type:varchar(32);not null;index:idx_price_ticks_symbol_ts"`

	Price decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	Ts        time.Time `gorm:"type:timestamptz;not null;index:idx_price_ticks_symbol_ts"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PriceTick) TableName() string {
	return "price_ticks"
}
