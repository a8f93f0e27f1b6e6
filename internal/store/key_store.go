package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyforged/keyforged/internal/db"
	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/security"
	"gorm.io/gorm"
)

// Store errors.
var (
	// ErrNotFound indicates no matching key record exists for the caller.
	ErrNotFound = errors.New("api key not found")
	// ErrOwnerNotFound indicates the referenced owner does not exist.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrDuplicateSecret indicates a generated secret collided with an
	// existing one. Creation retries internally; callers never see this.
	ErrDuplicateSecret = errors.New("duplicate secret")
)

// createMaxAttempts bounds secret regeneration on uniqueness collisions.
const createMaxAttempts = 3

// CreateParams holds inputs for key creation.
type CreateParams struct {
	UserID      *uint64    // Owner; nil creates an anonymous key.
	Name        string     // Display name.
	ExpiresAt   *time.Time // Optional expiry.
	MaxRequests *int64     // Optional usage ceiling.
	ResetAt     *time.Time // Optional first quota window boundary.
}

// UpdateParams holds the fields owners may change on their keys.
type UpdateParams struct {
	Active         *bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
}

// AdminUpdateParams additionally covers quota fields, admin only.
type AdminUpdateParams struct {
	Active           *bool
	ExpiresAt        *time.Time
	ClearExpiresAt   bool
	MaxRequests      *int64
	ClearMaxRequests bool
	ResetAt          *time.Time
	ClearResetAt     bool
}

// ListFilter narrows admin key listings.
type ListFilter struct {
	Page   int
	Limit  int
	Search string  // Matches key name prefix-insensitively.
	Status string  // active | inactive | expired.
	UserID *uint64 // Restrict to one owner.
}

// KeyStore is the repository interface consumed by the authentication engine
// and the management handlers.
type KeyStore interface {
	Create(ctx context.Context, params CreateParams) (*models.APIKey, error)
	FindBySecret(ctx context.Context, secret string) (*models.APIKey, error)
	FindByOwner(ctx context.Context, userID uint64) ([]models.APIKey, error)
	GetOwned(ctx context.Context, id uint64, userID uint64) (*models.APIKey, error)
	Update(ctx context.Context, id uint64, userID uint64, params UpdateParams) error
	Delete(ctx context.Context, id uint64, userID uint64) error

	List(ctx context.Context, filter ListFilter) ([]models.APIKey, int64, error)
	AdminUpdate(ctx context.Context, id uint64, params AdminUpdateParams) error
	AdminDelete(ctx context.Context, id uint64) error
	SetActiveBulk(ctx context.Context, ids []uint64, active bool) (int64, error)

	TouchLastUsed(ctx context.Context, id uint64, at time.Time)
}

// GormKeyStore implements KeyStore on a GORM connection.
type GormKeyStore struct {
	db *gorm.DB
}

// NewGormKeyStore constructs a GormKeyStore.
func NewGormKeyStore(conn *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: conn}
}

// Create generates a fresh secret and persists a new key record. The secret
// is generated exactly once per record; uniqueness collisions regenerate it
// a bounded number of times before failing.
func (s *GormKeyStore) Create(ctx context.Context, params CreateParams) (*models.APIKey, error) {
	if params.UserID != nil {
		var count int64
		if errCount := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", *params.UserID).
			Count(&count).Error; errCount != nil {
			return nil, fmt.Errorf("store: check owner: %w", errCount)
		}
		if count == 0 {
			return nil, ErrOwnerNotFound
		}
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = "default"
	}

	var lastErr error
	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		token, errGenerate := security.GenerateAPIKey()
		if errGenerate != nil {
			return nil, errGenerate
		}

		now := time.Now().UTC()
		row := models.APIKey{
			UserID:      params.UserID,
			Name:        name,
			Key:         token,
			Active:      true,
			ExpiresAt:   params.ExpiresAt,
			MaxRequests: params.MaxRequests,
			ResetAt:     params.ResetAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		errCreate := s.db.WithContext(ctx).Create(&row).Error
		if errCreate == nil {
			return &row, nil
		}
		if !isUniqueViolation(errCreate) {
			return nil, fmt.Errorf("store: create api key: %w", errCreate)
		}
		lastErr = ErrDuplicateSecret
	}
	return nil, fmt.Errorf("store: create api key: %w", lastErr)
}

// FindBySecret looks up a key record by exact secret match.
func (s *GormKeyStore) FindBySecret(ctx context.Context, secret string) (*models.APIKey, error) {
	var row models.APIKey
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("key = ?", secret).
		First(&row).Error
	switch {
	case err == nil:
		return &row, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("store: find by secret: %w", err)
	}
}

// FindByOwner returns all keys owned by the given user, newest first. It
// never returns records owned by anyone else.
func (s *GormKeyStore) FindByOwner(ctx context.Context, userID uint64) ([]models.APIKey, error) {
	var rows []models.APIKey
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: find by owner: %w", errFind)
	}
	return rows, nil
}

// GetOwned returns a single key scoped to the given owner.
func (s *GormKeyStore) GetOwned(ctx context.Context, id uint64, userID uint64) (*models.APIKey, error) {
	var row models.APIKey
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error
	switch {
	case err == nil:
		return &row, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("store: get owned: %w", err)
	}
}

// Update applies owner-mutable fields to a key. Updates are scoped by owner;
// a foreign key ID behaves exactly like a missing one.
func (s *GormKeyStore) Update(ctx context.Context, id uint64, userID uint64, params UpdateParams) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if params.Active != nil {
		updates["active"] = *params.Active
	}
	if params.ClearExpiresAt {
		updates["expires_at"] = nil
	} else if params.ExpiresAt != nil {
		updates["expires_at"] = params.ExpiresAt
	}

	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a key scoped to the given owner.
func (s *GormKeyStore) Delete(ctx context.Context, id uint64, userID uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.APIKey{})
	if res.Error != nil {
		return fmt.Errorf("store: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns keys across all owners with pagination and filters.
func (s *GormKeyStore) List(ctx context.Context, filter ListFilter) ([]models.APIKey, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.APIKey{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+search+"%")
		query = query.Where(db.CaseInsensitiveLikeExpr(s.db, "name"), pattern)
	}

	now := time.Now().UTC()
	switch filter.Status {
	case "active":
		query = query.Where("active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now)
	case "inactive":
		query = query.Where("active = ?", false)
	case "expired":
		query = query.Where("expires_at IS NOT NULL AND expires_at <= ?", now)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("store: count: %w", errCount)
	}

	var rows []models.APIKey
	offset := (filter.Page - 1) * filter.Limit
	if errFind := query.Preload("User").
		Order("created_at DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("store: list: %w", errFind)
	}
	return rows, total, nil
}

// AdminUpdate applies administrative changes, including quota fields.
func (s *GormKeyStore) AdminUpdate(ctx context.Context, id uint64, params AdminUpdateParams) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if params.Active != nil {
		updates["active"] = *params.Active
	}
	if params.ClearExpiresAt {
		updates["expires_at"] = nil
	} else if params.ExpiresAt != nil {
		updates["expires_at"] = params.ExpiresAt
	}
	if params.ClearMaxRequests {
		updates["max_requests"] = nil
	} else if params.MaxRequests != nil {
		updates["max_requests"] = *params.MaxRequests
	}
	if params.ClearResetAt {
		updates["reset_at"] = nil
	} else if params.ResetAt != nil {
		updates["reset_at"] = params.ResetAt
	}

	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: admin update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdminDelete removes a key regardless of owner.
func (s *GormKeyStore) AdminDelete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.APIKey{})
	if res.Error != nil {
		return fmt.Errorf("store: admin delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActiveBulk flips the active flag on the given keys and returns how many
// rows changed.
func (s *GormKeyStore) SetActiveBulk(ctx context.Context, ids []uint64, active bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"active":     active,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("store: bulk activate: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TouchLastUsed records the last successful authentication time. Failures are
// ignored; the timestamp is advisory.
func (s *GormKeyStore) TouchLastUsed(ctx context.Context, id uint64, at time.Time) {
	_ = s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", &at).Error
}

// isUniqueViolation reports whether an error stems from a unique constraint.
// GORM does not normalize these across dialects, so match on message text for
// both SQLite and PostgreSQL.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique failed") ||
		strings.Contains(msg, "duplicate key")
}
