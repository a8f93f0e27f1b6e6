package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	"gorm.io/gorm"
)

// DBEnforcer meters quota with conditional UPDATE statements against the key
// record itself. Both the window reset and the consume step are single
// statements, so concurrent requests against the same key cannot overshoot
// the ceiling.
type DBEnforcer struct {
	db          *gorm.DB
	resetPeriod time.Duration
}

// NewDBEnforcer constructs a DBEnforcer with the given reset period.
func NewDBEnforcer(conn *gorm.DB, resetPeriod time.Duration) *DBEnforcer {
	if resetPeriod <= 0 {
		resetPeriod = DefaultResetPeriod
	}
	return &DBEnforcer{db: conn, resetPeriod: resetPeriod}
}

// CheckAndConsume rolls the quota window if due, then increments the counter
// when the ceiling allows it. Unlimited keys always pass but still count
// usage.
func (e *DBEnforcer) CheckAndConsume(ctx context.Context, key *models.APIKey) error {
	if key == nil {
		return fmt.Errorf("quota: nil key")
	}
	now := time.Now().UTC()

	// Roll the window. The reset_at guard makes this a no-op for every
	// concurrent request except the first one past the boundary.
	if key.ResetAt != nil && !key.ResetAt.After(now) {
		next := now.Add(e.resetPeriod)
		if errReset := e.db.WithContext(ctx).Model(&models.APIKey{}).
			Where("id = ? AND reset_at IS NOT NULL AND reset_at <= ?", key.ID, now).
			Updates(map[string]any{
				"requests_count": 0,
				"reset_at":       &next,
			}).Error; errReset != nil {
			return fmt.Errorf("quota: reset window: %w", errReset)
		}
	}

	res := e.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND (max_requests IS NULL OR requests_count < max_requests)", key.ID).
		UpdateColumn("requests_count", gorm.Expr("requests_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("quota: consume: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}
