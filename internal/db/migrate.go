package db

import (
	"treasury/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Account{},
		&models.Transaction{},
		&models.Position{},
		&models.EconomySnapshot{},
		&models.SystemSetting{},
	)
}
