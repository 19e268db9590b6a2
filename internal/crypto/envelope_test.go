package crypto

import (
	"bytes"
	"testing"
)

func testMasterKey() []byte {
	k := make([]byte, masterKeyLen)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptPrivateKeyRoundTrip(t *testing.T) {
	key := testMasterKey()
	plain := []byte("a very secret private key, pkcs8 encoded in real use")

	env, err := EncryptPrivateKey(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptPrivateKey(env.Ciphertext, env.Nonce, env.Tag, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plain)
	}
}

func TestDecryptPrivateKeyRejectsTampering(t *testing.T) {
	key := testMasterKey()
	plain := []byte("secret material")

	env, err := EncryptPrivateKey(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	t.Run("tampered ciphertext", func(t *testing.T) {
		ct := append([]byte(nil), env.Ciphertext...)
		ct[0] ^= 0xFF
		if _, err := DecryptPrivateKey(ct, env.Nonce, env.Tag, key); err == nil {
			t.Fatal("expected AEAD rejection, got nil error")
		}
	})

	t.Run("tampered nonce", func(t *testing.T) {
		nonce := append([]byte(nil), env.Nonce...)
		nonce[0] ^= 0xFF
		if _, err := DecryptPrivateKey(env.Ciphertext, nonce, env.Tag, key); err == nil {
			t.Fatal("expected AEAD rejection, got nil error")
		}
	})

	t.Run("tampered tag", func(t *testing.T) {
		tag := append([]byte(nil), env.Tag...)
		tag[0] ^= 0xFF
		if _, err := DecryptPrivateKey(env.Ciphertext, env.Nonce, tag, key); err == nil {
			t.Fatal("expected AEAD rejection, got nil error")
		}
	})
}

func TestEncryptPrivateKeyRejectsBadMasterKeyLength(t *testing.T) {
	if _, err := EncryptPrivateKey([]byte("x"), []byte("too short")); err == nil {
		t.Fatal("expected error for short master key")
	} else if !IsKind(err, KindBadMasterKey) {
		t.Fatalf("expected KindBadMasterKey, got %v", err)
	}
}

func TestDecryptPrivateKeyRejectsBadLengths(t *testing.T) {
	key := testMasterKey()

	if _, err := DecryptPrivateKey(nil, make([]byte, 11), make([]byte, 16), key); !IsKind(err, KindBadNonce) {
		t.Fatalf("expected KindBadNonce, got %v", err)
	}
	if _, err := DecryptPrivateKey(nil, make([]byte, 12), make([]byte, 15), key); !IsKind(err, KindBadTag) {
		t.Fatalf("expected KindBadTag, got %v", err)
	}
}
