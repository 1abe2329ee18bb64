// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrWeakPassword is returned when a password fails strength validation.
// Only surfaced at registration and password change, never at login.
var ErrWeakPassword = errors.New("password does not meet strength requirements")

// ErrDuplicateIdentity is returned when a username or email is already taken.
var ErrDuplicateIdentity = errors.New("username or email already in use")

// ErrInvalidCredentials is the generic authentication failure. It deliberately
// does not reveal whether the username or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrAccountInactive is returned when the account exists but is deactivated.
var ErrAccountInactive = errors.New("account is inactive")

// ErrRateLimited is returned when an operation is throttled. Use errors.As
// with *RateLimitedError to obtain the remaining lock duration.
var ErrRateLimited = errors.New("too many attempts")

// ErrSessionInvalid is returned for expired, destroyed, or unknown sessions.
// All three collapse to this single externally visible state.
var ErrSessionInvalid = errors.New("session is invalid")

// RateLimitedError carries the remaining lock duration for a throttled
// subject. It unwraps to ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
