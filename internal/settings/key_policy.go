// Package settings caches DB-backed runtime configuration in memory.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	"gorm.io/gorm"
)

// KeyPolicyKey is the setting row holding key issuance defaults.
const KeyPolicyKey = "key_policy"

// KeyPolicy holds issuance defaults applied when a creation request leaves
// the corresponding field empty.
type KeyPolicy struct {
	// DefaultMaxRequests caps new keys when set; 0 means unlimited.
	DefaultMaxRequests int64 `json:"default_max_requests"`
	// DefaultExpiryDays expires new keys after this many days; 0 means never.
	DefaultExpiryDays int `json:"default_expiry_days"`
}

// globalKeyPolicy stores the latest KeyPolicy snapshot atomically.
var globalKeyPolicy atomic.Value // stores KeyPolicy

func init() {
	globalKeyPolicy.Store(KeyPolicy{})
}

// CurrentKeyPolicy returns the cached policy snapshot.
func CurrentKeyPolicy() KeyPolicy {
	policy, _ := globalKeyPolicy.Load().(KeyPolicy)
	return policy
}

// StoreKeyPolicy replaces the in-memory policy snapshot.
func StoreKeyPolicy(policy KeyPolicy) {
	globalKeyPolicy.Store(policy)
}

// RefreshKeyPolicy reloads the policy from the database and updates the
// snapshot. Required at startup; otherwise defaults stay zero until an admin
// updates the policy via the API.
func RefreshKeyPolicy(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var row models.Setting
	err := conn.WithContext(ctx).Where("key = ?", KeyPolicyKey).First(&row).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		StoreKeyPolicy(KeyPolicy{})
		return nil
	default:
		return err
	}

	var policy KeyPolicy
	if errUnmarshal := json.Unmarshal(row.Value, &policy); errUnmarshal != nil {
		return errUnmarshal
	}
	StoreKeyPolicy(policy)
	return nil
}

// SaveKeyPolicy persists the policy and refreshes the snapshot.
func SaveKeyPolicy(ctx context.Context, conn *gorm.DB, policy KeyPolicy) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	payload, errMarshal := json.Marshal(policy)
	if errMarshal != nil {
		return errMarshal
	}

	now := time.Now().UTC()
	var row models.Setting
	err := conn.WithContext(ctx).Where("key = ?", KeyPolicyKey).First(&row).Error
	switch {
	case err == nil:
		if errUpdate := conn.WithContext(ctx).Model(&row).
			Updates(map[string]any{"value": payload, "updated_at": now}).Error; errUpdate != nil {
			return errUpdate
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.Setting{Key: KeyPolicyKey, Value: payload, CreatedAt: now, UpdatedAt: now}
		if errCreate := conn.WithContext(ctx).Create(&row).Error; errCreate != nil {
			return errCreate
		}
	default:
		return err
	}

	StoreKeyPolicy(policy)
	return nil
}
