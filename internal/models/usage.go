package models

import "time"

// Usage records a single authenticated request for observability.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	APIKeyID uint64  `gorm:"not null;index"` // Key that authenticated the request.
	UserID   *uint64 `gorm:"index"`          // Owning user at request time, if any.

	Method     string `gorm:"type:text;not null"` // HTTP method.
	Path       string `gorm:"type:text;not null"` // Request path.
	StatusCode int    `gorm:"not null"`           // Response status code.

	RequestedAt time.Time `gorm:"not null;index"` // Request timestamp.
}
