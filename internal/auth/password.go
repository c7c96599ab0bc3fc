package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Credentials are stored as bcrypt hashes only; the plaintext never reaches
// the user store. bcrypt reads at most 72 bytes of input, so longer secrets
// are rejected up front instead of being silently truncated.
const maxPasswordBytes = 72

// HashPassword derives the stored form of a plaintext password.
func HashPassword(password string) (string, error) {
	switch {
	case password == "":
		return "", errors.New("password is empty")
	case len(password) > maxPasswordBytes:
		return "", errors.New("password exceeds 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks plaintext against the stored hash. The mismatch
// error comes back unchanged; callers collapse it into their own uniform
// credential failure.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
