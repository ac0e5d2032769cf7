package models

import (
	"fmt"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: database not initialized")
	}
	err := db.AutoMigrate(
		&Store{}, &Product{}, &Recipe{}, &RecipeTemplate{},
		&IntegritySyncRun{}, &IntegritySyncError{},
		&AutomationRunRecord{}, &RepairAuditRecord{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
