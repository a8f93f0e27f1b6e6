// Package usage records authenticated requests for audit and statistics.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recorder writes usage rows for authenticated requests.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(conn *gorm.DB) *Recorder {
	return &Recorder{db: conn}
}

// Record persists one usage row. Failures are logged, not propagated; audit
// writes must never fail the request they describe.
func (r *Recorder) Record(ctx context.Context, keyID uint64, userID *uint64, method, path string, statusCode int) {
	if r == nil || r.db == nil {
		return
	}
	row := models.Usage{
		APIKeyID:    keyID,
		UserID:      userID,
		Method:      method,
		Path:        path,
		StatusCode:  statusCode,
		RequestedAt: time.Now().UTC(),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("api_key_id", keyID).Warn("record usage failed")
	}
}

// OwnerStats summarizes usage for one owner's keys.
type OwnerStats struct {
	TotalKeys      int64 `json:"total_keys"`
	ActiveKeys     int64 `json:"active_keys"`
	RequestsLast30 int64 `json:"requests_30d"`
}

// StatsForOwner aggregates key counts and 30-day request volume for a user.
func StatsForOwner(ctx context.Context, conn *gorm.DB, userID uint64) (*OwnerStats, error) {
	var stats OwnerStats

	if errTotal := conn.WithContext(ctx).Model(&models.APIKey{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalKeys).Error; errTotal != nil {
		return nil, fmt.Errorf("usage: count keys: %w", errTotal)
	}

	now := time.Now().UTC()
	if errActive := conn.WithContext(ctx).Model(&models.APIKey{}).
		Where("user_id = ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)", userID, true, now).
		Count(&stats.ActiveKeys).Error; errActive != nil {
		return nil, fmt.Errorf("usage: count active keys: %w", errActive)
	}

	thirtyDaysAgo := now.AddDate(0, 0, -30)
	if errRequests := conn.WithContext(ctx).Model(&models.Usage{}).
		Where("user_id = ? AND requested_at >= ?", userID, thirtyDaysAgo).
		Count(&stats.RequestsLast30).Error; errRequests != nil {
		return nil, fmt.Errorf("usage: count requests: %w", errRequests)
	}

	return &stats, nil
}
