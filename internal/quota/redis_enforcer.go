package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// checkAndConsumeScript atomically checks the counter against the ceiling and
// increments it. A fresh counter gets the window TTL so expiry performs the
// reset.
// KEYS[1] = counter key
// ARGV[1] = ceiling (0 = unlimited)
// ARGV[2] = window in seconds
var checkAndConsumeScript = redis.NewScript(`
	local max = tonumber(ARGV[1])
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if max > 0 and current >= max then
		return -1
	end
	current = redis.call('INCR', KEYS[1])
	if current == 1 and tonumber(ARGV[2]) > 0 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisEnforcer meters quota with an atomic Lua script against Redis. The
// window reset is realized through key TTLs; the authoritative counter lives
// in Redis and is written back to the record best-effort for visibility.
type RedisEnforcer struct {
	rdb         *redis.Client
	db          *gorm.DB
	resetPeriod time.Duration
}

// NewRedisEnforcer constructs a RedisEnforcer. The gorm connection is
// optional and only used for counter write-back.
func NewRedisEnforcer(rdb *redis.Client, conn *gorm.DB, resetPeriod time.Duration) *RedisEnforcer {
	if resetPeriod <= 0 {
		resetPeriod = DefaultResetPeriod
	}
	return &RedisEnforcer{rdb: rdb, db: conn, resetPeriod: resetPeriod}
}

// counterKey returns the Redis key holding the usage counter.
func counterKey(id uint64) string {
	return "keyforged:quota:" + strconv.FormatUint(id, 10)
}

// CheckAndConsume runs the atomic script and maps an exhausted counter to
// ErrQuotaExceeded.
func (e *RedisEnforcer) CheckAndConsume(ctx context.Context, key *models.APIKey) error {
	if key == nil {
		return fmt.Errorf("quota: nil key")
	}

	max := int64(0)
	if key.MaxRequests != nil {
		max = *key.MaxRequests
	}
	window := e.resetPeriod
	if key.ResetAt != nil {
		if until := time.Until(*key.ResetAt); until > 0 {
			window = until
		}
	}
	windowSeconds := int64(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	result, errEval := checkAndConsumeScript.Run(ctx, e.rdb, []string{counterKey(key.ID)}, max, windowSeconds).Int64()
	if errEval != nil {
		return fmt.Errorf("quota: redis script: %w", errEval)
	}
	if result < 0 {
		return ErrQuotaExceeded
	}

	e.writeBack(ctx, key.ID, result)
	return nil
}

// writeBack mirrors the Redis counter onto the record so listings show usage.
func (e *RedisEnforcer) writeBack(ctx context.Context, id uint64, count int64) {
	if e.db == nil {
		return
	}
	if errUpdate := e.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		UpdateColumn("requests_count", count).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("api_key_id", id).Warn("quota counter write-back failed")
	}
}
