package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.cost()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

// Verify compares in constant time with respect to the password.
func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than the
// one currently configured.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < b.cost()
}
