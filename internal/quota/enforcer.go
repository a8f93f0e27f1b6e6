// Package quota meters authenticated API key usage against optional
// per-key request ceilings with windowed resets.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrQuotaExceeded indicates the key reached its usage ceiling for the
// current window.
var ErrQuotaExceeded = errors.New("quota exceeded")

// DefaultResetPeriod is the quota window length when none is configured.
const DefaultResetPeriod = 24 * time.Hour

// Enforcer checks and consumes one unit of quota for a key. The
// check-then-increment is atomic per key: concurrent requests never push the
// counter past the ceiling.
type Enforcer interface {
	CheckAndConsume(ctx context.Context, key *models.APIKey) error
}

// Backend names accepted in configuration.
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// New resolves the enforcer backend once at startup.
func New(backend string, conn *gorm.DB, rdb *redis.Client, resetPeriod time.Duration) (Enforcer, error) {
	if resetPeriod <= 0 {
		resetPeriod = DefaultResetPeriod
	}
	switch backend {
	case "", BackendDatabase:
		if conn == nil {
			return nil, fmt.Errorf("quota: database backend requires a db connection")
		}
		return NewDBEnforcer(conn, resetPeriod), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("quota: redis backend requires a redis client")
		}
		return NewRedisEnforcer(rdb, conn, resetPeriod), nil
	default:
		return nil, fmt.Errorf("quota: unknown backend: %s", backend)
	}
}
