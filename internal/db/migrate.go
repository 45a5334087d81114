package db

import (
	"updown/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Trade{},
		&models.Balance{},
		&models.Transaction{},
		&models.OutcomeOverride{},
		&models.PriceTick{},
		&models.SystemSetting{},
	)
}
