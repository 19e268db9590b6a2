package crypto

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost and MaxBcryptCost bound the configurable bcrypt cost per
// spec §6.6 / §8. Enforced here AND in config parsing (defense in depth).
const (
	MinBcryptCost = 10
	MaxBcryptCost = 14
	DefaultBcryptCost = 12
)

// HashClientSecret hashes secret with bcrypt at the given cost. cost must be
// in [MinBcryptCost, MaxBcryptCost].
func HashClientSecret(secret string, cost int) (string, error) {
	if cost < MinBcryptCost || cost > MaxBcryptCost {
		return "", newErr(KindBadCost, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, MinBcryptCost, MaxBcryptCost))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(hash), nil
}

// VerifyClientSecret compares secret against hash in constant time. It never
// panics on a malformed hash — bcrypt.CompareHashAndPassword returns an
// error in that case, which this function treats as "does not match".
func VerifyClientSecret(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}
