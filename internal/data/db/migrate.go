package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/docuchat/docuchat-core/internal/domain"
)

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
