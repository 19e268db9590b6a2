package crypto

import "testing"

func TestHashAndVerifyClientSecret(t *testing.T) {
	hash, err := HashClientSecret("correct-horse-battery-staple", DefaultBcryptCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !VerifyClientSecret("correct-horse-battery-staple", hash) {
		t.Fatal("expected matching secret to verify")
	}
	if VerifyClientSecret("wrong-secret", hash) {
		t.Fatal("expected mismatched secret to fail verification")
	}
}

func TestHashClientSecretRejectsCostOutOfRange(t *testing.T) {
	cases := []int{0, 4, MinBcryptCost - 1, MaxBcryptCost + 1, 31}
	for _, cost := range cases {
		if _, err := HashClientSecret("s", cost); !IsKind(err, KindBadCost) {
			t.Errorf("cost %d: expected KindBadCost, got %v", cost, err)
		}
	}
}

func TestHashClientSecretAcceptsBoundaryCosts(t *testing.T) {
	for _, cost := range []int{MinBcryptCost, MaxBcryptCost} {
		if _, err := HashClientSecret("s", cost); err != nil {
			t.Errorf("cost %d: unexpected error %v", cost, err)
		}
	}
}

func TestVerifyClientSecretRejectsMalformedHash(t *testing.T) {
	if VerifyClientSecret("anything", "not-a-bcrypt-hash") {
		t.Fatal("expected malformed hash to fail verification, not panic or succeed")
	}
}
