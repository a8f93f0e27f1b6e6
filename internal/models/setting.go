package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a runtime configuration value as JSON.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string         `gorm:"type:text;not null;uniqueIndex"` // Setting name.
	Value datatypes.JSON `gorm:"not null;default:'{}'"`          // JSON payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
