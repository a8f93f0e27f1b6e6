package models

import "time"

// Admin represents an administrator account for the management surface.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:text;not null;uniqueIndex"` // Login name.
	PasswordHash string `gorm:"type:text;not null"`             // bcrypt hash.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
