package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// LocalAdmin is the single operator account configured for local login
// (spec.md §11: "no role hierarchy, no tenant scoping"). Unlike the
// teacher's multi-tenant local_admins table, the Observatory has exactly
// one administrative identity, configured at startup.
type LocalAdmin struct {
	Username     string
	PasswordHash string
}

// HashPassword bcrypt-hashes a plaintext password for storage in config.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Authenticate verifies a username/password pair against the configured
// LocalAdmin, returning an error if either does not match.
func (a LocalAdmin) Authenticate(username, password string) error {
	// Constant-time-ish: always run bcrypt compare even on username mismatch,
	// so a wrong username doesn't short-circuit faster than a wrong password.
	err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
	if username != a.Username {
		return fmt.Errorf("invalid username or password")
	}
	if err != nil {
		return fmt.Errorf("invalid username or password")
	}
	return nil
}
