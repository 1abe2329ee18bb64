// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token and lifetime configuration.
const (
	SessionTokenBytes = 32 // 32 bytes = 64 hex chars

	// DefaultSessionTTL is the session lifetime without remember-me.
	DefaultSessionTTL = 24 * time.Hour

	// RememberMeSessionTTL is the session lifetime with remember-me.
	RememberMeSessionTTL = 30 * 24 * time.Hour
)

// ClientMeta carries optional client metadata recorded with a session.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Session represents an authenticated session. The expiry is fixed at
// creation and never extended by activity.
type Session struct {
	ID         ulid.ULID
	SubjectID  ulid.ULID
	TokenHash  string
	IPAddress  string
	UserAgent  string
	RememberMe bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a validated Session instance with a fresh ID.
// Metadata fields are optional and may be empty.
func NewSession(subjectID ulid.ULID, tokenHash string, rememberMe bool, meta ClientMeta, expiresAt, now time.Time) (*Session, error) {
	if subjectID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_SUBJECT").Errorf("subject ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}

	return &Session{
		ID:         ulid.Make(),
		SubjectID:  subjectID,
		TokenHash:  tokenHash,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		RememberMe: rememberMe,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored at rest.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashSessionToken(token)

	return token, hash, nil
}

// HashSessionToken computes the SHA256 hash of a session token.
// Only the hash is stored; a database leak never exposes usable tokens.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifySessionToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifySessionToken(token, hash string) (bool, error) {
	if token == "" {
		return false, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}
	if hash == "" {
		return false, oops.Code("SESSION_HASH_EMPTY").Errorf("stored hash cannot be empty")
	}
	computed := HashSessionToken(token)
	// Both are hex-encoded SHA256 hashes (64 chars), use constant-time compare
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}

// SessionRepository manages durable session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// GetBySubject retrieves all sessions for a subject.
	GetBySubject(ctx context.Context, subjectID ulid.ULID) ([]*Session, error)

	// UpdateLastSeen updates the LastSeenAt timestamp for a session.
	UpdateLastSeen(ctx context.Context, id ulid.ULID, lastSeen time.Time) error

	// Delete removes a session by ID. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteBySubject removes all sessions for a subject and returns the
	// count of deleted records.
	DeleteBySubject(ctx context.Context, subjectID ulid.ULID) (int64, error)

	// DeleteExpired removes all sessions expired as of the given time and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
