package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// randomURLSafe returns n cryptographically random bytes, URL-safe base64
// encoded without padding.
func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomBytes returns n cryptographically random bytes. Used for nonces in
// the session binding layer (C9), which require >= 16 bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
