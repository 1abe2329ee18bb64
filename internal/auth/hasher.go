// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"unicode"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters. Salt and digest are stored as
// separate columns; the parameters are fixed constants so a stored digest
// can always be re-derived.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 64        // digest length in bytes
)

// Password strength requirements.
const (
	MinPasswordLength = 12
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash derives a digest of the password under the given salt.
	Hash(password string, salt []byte) ([]byte, error)

	// Verify re-derives the digest and compares it against expected in
	// constant time. Returns (true, nil) on match, (false, nil) on
	// mismatch, or an error on invalid input.
	Verify(password string, salt, expected []byte) (bool, error)
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// NewSalt mints a cryptographically random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}
	return salt, nil
}

// Hash derives an argon2id digest of the password under the given salt.
func (h *Argon2idHasher) Hash(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(salt) != argon2SaltLen {
		return nil, oops.Code("AUTH_INVALID_SALT").
			With("expected_len", argon2SaltLen).
			With("actual_len", len(salt)).
			Errorf("salt must be %d bytes", argon2SaltLen)
	}

	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen), nil
}

// Verify re-derives the digest and compares it in constant time.
// The comparison never short-circuits on the first differing byte.
func (h *Argon2idHasher) Verify(password string, salt, expected []byte) (bool, error) {
	if len(salt) != argon2SaltLen {
		return false, oops.Code("AUTH_INVALID_SALT").
			With("expected_len", argon2SaltLen).
			With("actual_len", len(salt)).
			Errorf("salt must be %d bytes", argon2SaltLen)
	}
	if len(expected) != argon2KeyLen {
		return false, oops.Code("AUTH_INVALID_DIGEST").
			With("expected_len", argon2KeyLen).
			With("actual_len", len(expected)).
			Errorf("digest must be %d bytes", argon2KeyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// ValidatePasswordStrength enforces the password policy: minimum length of
// MinPasswordLength with at least one uppercase letter, one lowercase
// letter, and one digit. Failures wrap ErrWeakPassword so callers can give
// actionable feedback at registration and password change.
func ValidatePasswordStrength(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min_length", MinPasswordLength).
			Wrap(ErrWeakPassword)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("has_upper", hasUpper).
			With("has_lower", hasLower).
			With("has_digit", hasDigit).
			Wrap(ErrWeakPassword)
	}
	return nil
}

// Compile-time interface check.
var _ PasswordHasher = (*Argon2idHasher)(nil)
