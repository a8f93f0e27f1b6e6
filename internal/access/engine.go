package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/store"
)

// Authentication failure reasons. Only logging ever distinguishes them; wire
// responses collapse everything into a generic rejection.
var (
	// ErrNoCredential indicates the request carried no API key at all. This
	// is not a rejection; callers defer to other authentication mechanisms.
	ErrNoCredential = errors.New("no credential")
	// ErrInvalidCredential indicates the presented secret matches no key.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrCredentialDisabled indicates the key was administratively disabled.
	ErrCredentialDisabled = errors.New("credential disabled")
	// ErrCredentialExpired indicates the key is past its expiry.
	ErrCredentialExpired = errors.New("credential expired")
)

// Engine resolves raw credentials into principals. Authentication is a pure
// read-and-decide step: it never consumes quota, so a rejected or merely
// inspected request costs nothing.
type Engine struct {
	keys store.KeyStore
}

// NewEngine constructs an Engine backed by the given key store.
func NewEngine(keys store.KeyStore) *Engine {
	return &Engine{keys: keys}
}

// Authenticate validates a raw credential and returns the key record it
// matched together with the derived principal. An empty credential returns
// ErrNoCredential so other authentication strategies can be tried.
func (e *Engine) Authenticate(ctx context.Context, rawCredential string) (*models.APIKey, Principal, error) {
	if rawCredential == "" {
		return nil, Anonymous(), ErrNoCredential
	}

	row, errFind := e.keys.FindBySecret(ctx, rawCredential)
	switch {
	case errFind == nil:
	case errors.Is(errFind, store.ErrNotFound):
		return nil, Anonymous(), ErrInvalidCredential
	default:
		return nil, Anonymous(), fmt.Errorf("access: lookup failed: %w", errFind)
	}

	if !row.Active {
		return nil, Anonymous(), ErrCredentialDisabled
	}
	now := time.Now().UTC()
	if row.HasExpired(now) {
		return nil, Anonymous(), ErrCredentialExpired
	}
	if row.User != nil && row.User.Disabled {
		return nil, Anonymous(), ErrCredentialDisabled
	}

	e.keys.TouchLastUsed(ctx, row.ID, now)

	return row, Principal{
		Kind:   KindAPIKey,
		KeyID:  row.ID,
		UserID: row.UserID,
	}, nil
}
