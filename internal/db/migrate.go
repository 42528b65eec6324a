package db

import (
	"fundflow/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.InvestorProfile{},
		&models.Campaign{},
		&models.Investment{},
		&models.Transaction{},
		&models.MarketplaceListing{},
		&models.MarketplaceTransaction{},
		&models.DeadLetter{},
		&models.SystemSetting{},
	)
}
