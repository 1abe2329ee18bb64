// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account represents a user account. The password digest and salt are
// stored as separate values and are only ever replaced together.
type Account struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash []byte
	PasswordSalt []byte
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates a validated Account instance with a fresh ID.
// The password hash and salt must already be derived by a PasswordHasher.
func NewAccount(username, email string, passwordHash, passwordSalt []byte) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if !strings.Contains(email, "@") {
		return nil, oops.Code("AUTH_INVALID_EMAIL").Errorf("email must contain @")
	}
	if len(passwordHash) == 0 {
		return nil, oops.Code("AUTH_INVALID_CREDENTIAL").Errorf("password hash cannot be empty")
	}
	if len(passwordSalt) == 0 {
		return nil, oops.Code("AUTH_INVALID_CREDENTIAL").Errorf("password salt cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		PasswordSalt: passwordSalt,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// AccountRepository is the narrow interface to the external identity store.
// The core reads and updates credentials through it and never embeds
// storage logic for accounts.
type AccountRepository interface {
	// Create stores a new account. Returns ErrDuplicateIdentity if the
	// username or email is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdatePassword atomically replaces the password hash and salt.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash, passwordSalt []byte) error

	// UpdateLastLogin records the most recent successful login.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error
}
