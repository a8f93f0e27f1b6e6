package models

import "time"

// User is the external identity a key may be attached to. The service only
// manages enough of the account to scope keys and authenticate the
// self-service surface.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:text;not null;uniqueIndex"` // Login name.
	Email        string `gorm:"type:text"`                      // Contact email.
	PasswordHash string `gorm:"type:text;not null"`             // bcrypt hash.

	Disabled bool `gorm:"not null;default:false"` // Blocks login and key authentication.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
