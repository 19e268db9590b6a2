package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey runs HKDF-SHA256 over ikm with the given salt and info, producing
// outLen bytes. Used by the Session Binding layer (C9) to derive a
// per-meeting HMAC key from the process-wide master secret.
func DeriveKey(ikm, salt []byte, info string, outLen int) ([]byte, error) {
	if len(ikm) < 32 {
		return nil, fmt.Errorf("ikm must be at least 32 bytes, got %d", len(ikm))
	}

	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return out, nil
}
