package db

import (
	"fmt"

	"github.com/keyforged/keyforged/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Admin{},
		&models.APIKey{},
		&models.Setting{},
		&models.Usage{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
