package models

import "time"

// APIKey represents an opaque credential issued to a user or created anonymously.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID *uint64 `gorm:"index"`             // Owning user ID; nil for anonymous keys.
	User   *User   `gorm:"foreignKey:UserID"` // Associated user record.

	Name string `gorm:"type:text;not null"`             // Display name for the key.
	Key  string `gorm:"type:text;not null;uniqueIndex"` // Full secret string, write-once.

	Active    bool       `gorm:"not null;default:true"` // Whether the key is enabled.
	ExpiresAt *time.Time // Optional expiration timestamp; nil never expires.

	RequestsCount int64      `gorm:"not null;default:0"` // Authenticated uses in the current window.
	MaxRequests   *int64     // Optional usage ceiling; nil is unlimited.
	ResetAt       *time.Time // When RequestsCount rolls over to zero.

	LastUsedAt *time.Time // Last successful authentication time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp, write-once.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasExpired reports whether the key is past its expiration timestamp.
func (k *APIKey) HasExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Usable reports whether the key may authenticate requests at the given time.
// Quota exhaustion is evaluated separately by the quota enforcer.
func (k *APIKey) Usable(now time.Time) bool {
	return k.Active && !k.HasExpired(now)
}

// Status returns the current key status based on the active flag and expiry.
func (k *APIKey) Status() string {
	now := time.Now()
	if k.HasExpired(now) {
		return "expired"
	}
	if k.Active {
		return "active"
	}
	return "inactive"
}

// MaskedKey returns a display form that reveals only a short leading fragment.
func (k *APIKey) MaskedKey() string {
	if len(k.Key) < 10 {
		return "..."
	}
	return k.Key[:10] + "..."
}
