package crypto

import (
	"crypto/ed25519"
	"testing"
)

func TestGenerateSigningKeypairRoundTrip(t *testing.T) {
	masterKey := testMasterKey()

	kp, err := GenerateSigningKeypair(masterKey)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(kp.PublicKey) == 0 {
		t.Fatal("expected non-empty public key")
	}

	priv, err := DecryptSigningKey(kp.EncryptedPrivate, masterKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	msg := []byte("dark tower")
	sig := ed25519.Sign(priv, msg)
	if !ed25519.Verify(kp.PublicKey, msg, sig) {
		t.Fatal("signature did not verify against the generated public key")
	}
}

func TestDecryptSigningKeyRejectsWrongMasterKey(t *testing.T) {
	masterKey := testMasterKey()
	wrongKey := make([]byte, masterKeyLen)
	copy(wrongKey, masterKey)
	wrongKey[0] ^= 0xFF

	kp, err := GenerateSigningKeypair(masterKey)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := DecryptSigningKey(kp.EncryptedPrivate, wrongKey); err == nil {
		t.Fatal("expected decryption to fail under the wrong master key")
	}
}

func TestGenerateClientSecretIsRedactedAndUnique(t *testing.T) {
	s1, err := GenerateClientSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	s2, err := GenerateClientSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if s1.String() != "[REDACTED]" {
		t.Fatalf("expected redacted String(), got %q", s1.String())
	}
	if s1.Expose() == s2.Expose() {
		t.Fatal("expected distinct secrets across calls")
	}
	if len(s1.Expose()) == 0 {
		t.Fatal("expected non-empty exposed secret")
	}
}
