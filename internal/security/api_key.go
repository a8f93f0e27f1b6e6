package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// apiKeyPrefix is the prefix used for generated API keys.
const apiKeyPrefix = "ak_"

// apiKeySecretBytes is the number of random bytes behind each key (256 bits).
const apiKeySecretBytes = 32

// GenerateAPIKey creates a new random API key string. The secret part is
// base64url-encoded so the full value is safe to carry in an HTTP header.
func GenerateAPIKey() (token string, err error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	token = apiKeyPrefix + base64.RawURLEncoding.EncodeToString(secret)
	return token, nil
}
