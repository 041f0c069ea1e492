// Package auth signs lab users in: bcrypt password checks, in-memory
// sessions with CSRF tokens and a failed-login lockout.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced on every new password.
const MinPasswordLength = 8

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ErrPasswordTooShort is returned by HashPassword.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)

// bcryptCost is lowered in tests.
var bcryptCost = bcrypt.DefaultCost

// HashPassword hashes pw with bcrypt.
func HashPassword(pw string) (string, error) {
	if len(pw) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether pw matches hash.
func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// dummyHash keeps unknown-user logins as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("micrologger-timing-pad"), bcrypt.DefaultCost)

func burnCompare(pw string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pw))
}

func isMismatch(err error) bool {
	return errors.Is(err, bcrypt.ErrMismatchedHashAndPassword)
}
