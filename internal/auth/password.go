package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is bcrypt's work factor for staff credentials. Logins are rare
// relative to token validation, so the default cost is acceptable.
const hashCost = bcrypt.DefaultCost

// HashPassword derives a storable hash from a plaintext password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash. The error
// is opaque on mismatch; callers answer invalid credentials uniformly.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("%w: password hash is empty", ErrInvalidInput)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
