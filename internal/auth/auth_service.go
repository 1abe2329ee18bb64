// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/casevault/casevault/internal/audit"
)

// Service orchestrates registration, login, logout, and password change by
// composing the password hasher, rate limiter, and session store. It does
// not own credential storage; accounts live behind the injected repository.
type Service struct {
	accounts  AccountRepository
	sessions  *SessionStore
	hasher    PasswordHasher
	limiter   *RateLimiter
	audit     audit.Sink
	logger    *slog.Logger
	listeners []Listener
}

// NewService creates a new Service. All dependencies are required; pass
// audit.NopSink{} to discard audit events.
func NewService(accounts AccountRepository, sessions *SessionStore, hasher PasswordHasher, limiter *RateLimiter, sink audit.Sink) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if limiter == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("rate limiter is required")
	}
	if sink == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("audit sink is required")
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		limiter:  limiter,
		audit:    sink,
		logger:   slog.Default(),
	}, nil
}

// SetLogger replaces the default logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// RegisterListener appends a listener. Listeners are invoked synchronously
// in registration order. Not safe to call concurrently with operations.
func (s *Service) RegisterListener(l Listener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// dummySalt and dummyDigest are verified against when a username does not
// exist, so lookup misses burn the same hashing work as real accounts and
// response times do not reveal account existence. They never match any
// password.
var (
	dummySalt   = make([]byte, argon2SaltLen)
	dummyDigest = make([]byte, argon2KeyLen)
)

// loginKey is the stable rate-limit key for a login identifier. Unknown
// usernames are tracked under the same key shape as real ones so failed
// probes cannot distinguish the two.
func loginKey(username string) string {
	return strings.ToLower(username)
}

// Register creates a new account, hashes the password with a fresh salt,
// and immediately creates a session (auto-login). Returns the account, the
// session, and the plaintext session token.
func (s *Service) Register(ctx context.Context, username, password, email string, meta ClientMeta) (*Account, *Session, string, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, nil, "", err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, nil, "", err
	}

	// Check uniqueness up front for a friendly error; the repository's
	// unique constraints remain the authority under concurrency.
	if _, err := s.accounts.GetByUsername(ctx, username); err == nil {
		return nil, nil, "", oops.Code("AUTH_DUPLICATE_IDENTITY").
			With("field", "username").
			Wrap(ErrDuplicateIdentity)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}
	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, nil, "", oops.Code("AUTH_DUPLICATE_IDENTITY").
			With("field", "email").
			Wrap(ErrDuplicateIdentity)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "generate salt").
			Wrap(err)
	}
	digest, err := s.hasher.Hash(password, salt)
	if err != nil {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(username, email, digest, salt)
	if err != nil {
		return nil, nil, "", err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, nil, "", err
		}
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "persist account").
			Wrap(err)
	}

	session, token, err := s.sessions.Create(ctx, account.ID, false, meta)
	if err != nil {
		return nil, nil, "", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	s.emit(ctx, audit.Event{
		Type:         audit.EventRegister,
		SubjectID:    account.ID.String(),
		ResourceType: "account",
		ResourceID:   account.ID.String(),
		Action:       "register",
		Success:      true,
		Details:      map[string]any{"username": account.Username},
	})
	s.notifyLogin(ctx, session)

	return account, session, token, nil
}

// Login authenticates a subject and mints a new session. The rate limiter
// is consulted before any credential data is touched; a locked subject is
// rejected without hashing work and without revealing whether the account
// exists. A brand-new session ID is minted on every success, even for an
// already-authenticated subject.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool, meta ClientMeta) (*Session, string, error) {
	key := loginKey(username)

	if d := s.limiter.Check(key, OpLogin); !d.Allowed {
		s.emit(ctx, audit.Event{
			Type:         audit.EventLogin,
			ResourceType: "account",
			Action:       "login",
			Success:      false,
			ErrorMessage: "rate limited",
		})
		return nil, "", oops.Code("AUTH_RATE_LIMITED").
			Wrap(&RateLimitedError{RetryAfter: d.RetryAfter})
	}

	account, lookupErr := s.accounts.GetByUsername(ctx, username)

	// Decide which credential to verify against. A missing account is
	// verified against a dummy credential so the hashing cost is paid
	// either way and timing does not leak account existence.
	salt, digest := dummySalt, dummyDigest
	accountExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by username").
				Wrap(lookupErr)
		}
	} else {
		salt, digest = account.PasswordSalt, account.PasswordHash
		accountExists = true
	}

	// No lock is held here; hashing is deliberately slow.
	valid, verifyErr := s.hasher.Verify(password, salt, digest)
	if verifyErr != nil {
		if !accountExists {
			return nil, "", s.failLogin(ctx, key, username)
		}
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !accountExists || !valid {
		return nil, "", s.failLogin(ctx, key, username)
	}

	if !account.Active {
		s.emit(ctx, audit.Event{
			Type:         audit.EventLogin,
			SubjectID:    account.ID.String(),
			ResourceType: "account",
			ResourceID:   account.ID.String(),
			Action:       "login",
			Success:      false,
			ErrorMessage: "account inactive",
		})
		return nil, "", oops.Code("AUTH_ACCOUNT_INACTIVE").Wrap(ErrAccountInactive)
	}

	// Verified success: the counter resets only now.
	s.limiter.Reset(key, OpLogin)

	session, token, err := s.sessions.Create(ctx, account.ID, rememberMe, meta)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	// Best effort; login succeeds regardless.
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, session.CreatedAt); err != nil {
		s.logger.Warn("failed to update last login", "subject_id", account.ID.String(), "error", err)
	}

	s.emit(ctx, audit.Event{
		Type:         audit.EventLogin,
		SubjectID:    account.ID.String(),
		ResourceType: "session",
		ResourceID:   session.ID.String(),
		Action:       "login",
		Success:      true,
		Details:      map[string]any{"remember_me": rememberMe},
	})
	s.notifyLogin(ctx, session)

	return session, token, nil
}

// failLogin records a failed attempt and returns the generic credentials
// error. The caller never learns whether the username or password was
// wrong.
func (s *Service) failLogin(ctx context.Context, key, username string) error {
	status := s.limiter.Increment(key, OpLogin)
	if status.JustLocked {
		s.emit(ctx, audit.Event{
			Type:         audit.EventRateLimitLock,
			ResourceType: "account",
			Action:       "lock",
			Success:      true,
			Details:      map[string]any{"operation": string(OpLogin), "lock_duration": status.RetryAfter.String()},
		})
		s.logger.Warn("login lockout engaged", "username", username, "retry_after", status.RetryAfter)
	}
	s.emit(ctx, audit.Event{
		Type:         audit.EventLogin,
		ResourceType: "account",
		Action:       "login",
		Success:      false,
		ErrorMessage: "invalid credentials",
	})
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

// Logout destroys a session. Unknown session IDs are treated as success so
// repeated logout calls are safe.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	found, err := s.sessions.Destroy(ctx, sessionID)
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "destroy session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}

	s.emit(ctx, audit.Event{
		Type:         audit.EventLogout,
		ResourceType: "session",
		ResourceID:   sessionID.String(),
		Action:       "logout",
		Success:      true,
		Details:      map[string]any{"found": found},
	})

	for _, l := range s.listeners {
		l.OnLogout(ctx, sessionID)
	}
	return nil
}

// ChangePassword verifies the old password, re-hashes the new one with a
// fresh salt, and revokes every session for the subject, including the one
// that issued the change. The subject is logged out everywhere.
func (s *Service) ChangePassword(ctx context.Context, subjectID ulid.ULID, oldPassword, newPassword string) error {
	key := subjectID.String()

	if d := s.limiter.Check(key, OpPasswordChange); !d.Allowed {
		return oops.Code("AUTH_RATE_LIMITED").
			Wrap(&RateLimitedError{RetryAfter: d.RetryAfter})
	}

	account, err := s.accounts.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	valid, err := s.hasher.Verify(oldPassword, account.PasswordSalt, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "verify old password").
			Wrap(err)
	}
	if !valid {
		status := s.limiter.Increment(key, OpPasswordChange)
		if status.JustLocked {
			s.emit(ctx, audit.Event{
				Type:         audit.EventRateLimitLock,
				SubjectID:    subjectID.String(),
				ResourceType: "account",
				ResourceID:   subjectID.String(),
				Action:       "lock",
				Success:      true,
				Details:      map[string]any{"operation": string(OpPasswordChange), "lock_duration": status.RetryAfter.String()},
			})
		}
		s.emit(ctx, audit.Event{
			Type:         audit.EventPasswordChange,
			SubjectID:    subjectID.String(),
			ResourceType: "account",
			ResourceID:   subjectID.String(),
			Action:       "change_password",
			Success:      false,
			ErrorMessage: "invalid credentials",
		})
		return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Strength failures are user-correctable mistakes, not attack signals;
	// they do not consume an attempt.
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}

	salt, err := NewSalt()
	if err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "generate salt").
			Wrap(err)
	}
	digest, err := s.hasher.Hash(newPassword, salt)
	if err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, subjectID, digest, salt); err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "persist password").
			Wrap(err)
	}

	revoked, err := s.sessions.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		// The password is already changed; surface the failure but note it
		// in the audit trail either way.
		s.emit(ctx, audit.Event{
			Type:         audit.EventPasswordChange,
			SubjectID:    subjectID.String(),
			ResourceType: "account",
			ResourceID:   subjectID.String(),
			Action:       "change_password",
			Success:      false,
			ErrorMessage: "session revocation failed",
		})
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").
			With("operation", "revoke sessions").
			Wrap(err)
	}

	s.limiter.Reset(key, OpPasswordChange)

	s.emit(ctx, audit.Event{
		Type:         audit.EventPasswordChange,
		SubjectID:    subjectID.String(),
		ResourceType: "account",
		ResourceID:   subjectID.String(),
		Action:       "change_password",
		Success:      true,
		Details:      map[string]any{"sessions_revoked": revoked},
	})
	for _, l := range s.listeners {
		l.OnPasswordChange(ctx, subjectID)
	}
	return nil
}

// emit forwards an audit event to the sink. The sink contract guarantees
// this never blocks or fails the primary path.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	s.audit.Log(ctx, event)
}

func (s *Service) notifyLogin(ctx context.Context, session *Session) {
	for _, l := range s.listeners {
		l.OnLogin(ctx, session)
	}
}
