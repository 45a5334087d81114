package models

import "time"

const (
	OverrideModeNormal     = "normal"
	OverrideModeForcedWin  = "forced_win"
	OverrideModeForcedLose = "forced_lose"
)

// OutcomeOverride is the admin-configured per-user trading mode. It has no
// expiry: the mode applies to every trade settled for the user until changed.
type OutcomeOverride struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(64);not null;uniqueIndex"`

	Mode string `gorm:"type:varchar(16);not null;default:'normal'"`

	UpdatedBy string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (OutcomeOverride) TableName() string {
	return "outcome_overrides"
}

func ValidOverrideMode(mode string) bool {
	switch mode {
	case OverrideModeNormal, OverrideModeForcedWin, OverrideModeForcedLose:
		return true
	}
	return false
}
