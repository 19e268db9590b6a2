package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/darktower/control-plane/internal/secret"
)

// KeyPair is a freshly generated Ed25519 signing keypair with the private
// half already sealed in an AES-256-GCM envelope — plaintext private key
// material never leaves this function.
type KeyPair struct {
	PublicKey       ed25519.PublicKey
	EncryptedPrivate Envelope
}

// GenerateSigningKeypair generates an Ed25519 keypair via the CSPRNG and
// immediately wraps the PKCS#8-encoded private key under masterKey.
func GenerateSigningKeypair(masterKey []byte) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating ed25519 keypair: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshaling pkcs8 private key: %w", err)
	}

	env, err := EncryptPrivateKey(pkcs8, masterKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("encrypting private key: %w", err)
	}

	return KeyPair{PublicKey: pub, EncryptedPrivate: env}, nil
}

// DecryptSigningKey recovers the PKCS#8-encoded Ed25519 private key from an
// encrypted envelope and parses it back into a usable private key.
func DecryptSigningKey(env Envelope, masterKey []byte) (ed25519.PrivateKey, error) {
	plain, err := DecryptPrivateKey(env.Ciphertext, env.Nonce, env.Tag, masterKey)
	if err != nil {
		return nil, err
	}

	key, err := x509.ParsePKCS8PrivateKey(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing pkcs8 private key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, newErr(KindBadAlgorithm, fmt.Errorf("decrypted key is not ed25519"))
	}

	return priv, nil
}

// GenerateClientSecret returns >= 32 bytes of CSPRNG output, URL-safe
// encoded, wrapped in a secret.Value so callers must explicitly Expose it.
func GenerateClientSecret() (secret.Value[string], error) {
	raw, err := randomURLSafe(32)
	if err != nil {
		return secret.Value[string]{}, err
	}
	return secret.New(raw), nil
}
