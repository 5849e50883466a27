package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// tokenBytes is the amount of raw entropy backing a bearer token.
const tokenBytes = 32

// NewBearerToken returns a URL-safe random token built from 32 bytes of
// crypto/rand entropy.
func NewBearerToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
