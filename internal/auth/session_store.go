// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/casevault/casevault/internal/audit"
)

// DefaultSessionCleanupInterval is how often the background sweeper removes
// expired sessions.
const DefaultSessionCleanupInterval = 5 * time.Minute

// SessionStoreConfig configures a SessionStore.
type SessionStoreConfig struct {
	// DefaultTTL is the session lifetime without remember-me.
	// Defaults to DefaultSessionTTL if zero.
	DefaultTTL time.Duration

	// RememberMeTTL is the session lifetime with remember-me.
	// Defaults to RememberMeSessionTTL if zero.
	RememberMeTTL time.Duration

	// CacheEnabled mirrors hot sessions in a process-local map in front of
	// the durable repository.
	CacheEnabled bool

	// CleanupInterval is how often the background sweeper runs.
	// Defaults to DefaultSessionCleanupInterval if zero.
	CleanupInterval time.Duration

	// Audit receives a session_cleanup event after each sweep that removed
	// sessions. Nil disables audit emission.
	Audit audit.Sink

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// SessionStore manages the session lifecycle: creation, validation,
// destruction, and expiry. Durable state lives in the injected repository;
// when caching is enabled, hot entries are mirrored in memory and a cache
// miss always falls through to the repository. It is safe for concurrent
// use.
type SessionStore struct {
	repo   SessionRepository
	cfg    SessionStoreConfig
	clock  func() time.Time
	logger *slog.Logger

	// cache maps token hash to session; byID resolves session ID to token
	// hash so Destroy can evict without knowing the token. generation
	// advances on every destroy and revoke; backfills capture it before
	// their durable read and abort when it has moved, so a row read before
	// a destroy is never re-published after it. Guarded by mu.
	mu         sync.Mutex
	cache      map[string]*Session
	byID       map[ulid.ULID]string
	generation uint64

	// Background sweeper
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics (nil if no registry provided)
	cacheGauge prometheus.Gauge
	sweptTotal prometheus.Counter
}

// NewSessionStore creates a new SessionStore over the given repository.
func NewSessionStore(repo SessionRepository, cfg SessionStoreConfig) (*SessionStore, error) {
	return newSessionStore(repo, cfg, nil)
}

// NewSessionStoreWithRegistry creates a new SessionStore and registers its
// cache gauge and sweep counter with the provided Prometheus registry.
func NewSessionStoreWithRegistry(repo SessionRepository, cfg SessionStoreConfig, reg prometheus.Registerer) (*SessionStore, error) {
	return newSessionStore(repo, cfg, reg)
}

func newSessionStore(repo SessionRepository, cfg SessionStoreConfig, reg prometheus.Registerer) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_STORE_INVALID").Errorf("session repository is required")
	}

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultSessionTTL
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = RememberMeSessionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultSessionCleanupInterval
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &SessionStore{
		repo:   repo,
		cfg:    cfg,
		clock:  clock,
		logger: slog.Default(),
		cache:  make(map[string]*Session),
		byID:   make(map[ulid.ULID]string),
	}

	if reg != nil {
		s.cacheGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casevault_sessions_cached",
			Help: "Current number of sessions in the in-memory cache",
		})
		s.sweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casevault_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		})
		reg.MustRegister(s.cacheGauge)
		reg.MustRegister(s.sweptTotal)
	}

	return s, nil
}

// Create mints a new session for the subject. Returns the session and the
// plaintext token to hand to the client. A new ID and token are minted on
// every call; an existing session for the same subject is never reused.
func (s *SessionStore) Create(ctx context.Context, subjectID ulid.ULID, rememberMe bool, meta ClientMeta) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	now := s.clock()
	ttl := s.cfg.DefaultTTL
	if rememberMe {
		ttl = s.cfg.RememberMeTTL
	}

	session, err := NewSession(subjectID, tokenHash, rememberMe, meta, now.Add(ttl), now)
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	gen := s.cacheGeneration()
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	s.cacheInsert(session, gen)

	return session, token, nil
}

// Validate checks a plaintext token and returns the session if it is valid.
// Expired sessions are eagerly deleted from both layers on first
// observation and reported invalid. The LastSeenAt touch is best effort and
// never fails validation.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrSessionInvalid)
	}

	tokenHash := HashSessionToken(token)
	now := s.clock()

	if session, ok := s.cacheLookup(tokenHash); ok {
		if session.IsExpiredAt(now) {
			s.cacheEvict(tokenHash)
			if err := s.repo.Delete(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("failed to delete expired session", "session_id", session.ID.String(), "error", err)
			}
			return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrSessionInvalid)
		}
		s.touchLastSeen(ctx, session, now)
		return session, nil
	}

	gen := s.cacheGeneration()
	session, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrSessionInvalid)
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpiredAt(now) {
		if err := s.repo.Delete(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to delete expired session", "session_id", session.ID.String(), "error", err)
		}
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrSessionInvalid)
	}

	// Touch before publishing to the cache; the session is still private to
	// this call here, so the write needs no lock.
	s.touchLastSeen(ctx, session, now)
	s.cacheInsert(session, gen)

	return session, nil
}

// Destroy removes a session from both layers. Returns (false, nil) when
// nothing was found so repeated logout calls are safe.
func (s *SessionStore) Destroy(ctx context.Context, sessionID ulid.ULID) (bool, error) {
	err := s.repo.Delete(ctx, sessionID)

	// Evict after the durable delete. A concurrent Validate that read the
	// row beforehand either backfills before this eviction (and is removed
	// here) or after it (and is rejected by the generation check).
	s.cacheEvictByID(sessionID)

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_DESTROY_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return true, nil
}

// RevokeAllForSubject removes every session for the subject and returns the
// count of durable rows deleted. Used after a password change.
func (s *SessionStore) RevokeAllForSubject(ctx context.Context, subjectID ulid.ULID) (int64, error) {
	count, err := s.repo.DeleteBySubject(ctx, subjectID)

	// Purge after the durable delete, for the same ordering reason as
	// Destroy: concurrent backfills of this subject's rows either land
	// before the purge or fail the generation check.
	s.mu.Lock()
	s.generation++
	for hash, session := range s.cache {
		if session.SubjectID == subjectID {
			delete(s.cache, hash)
			delete(s.byID, session.ID)
		}
	}
	s.updateCacheGauge()
	s.mu.Unlock()

	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "delete sessions by subject").
			With("subject_id", subjectID.String()).
			Wrap(err)
	}
	return count, nil
}

// CleanupExpired sweeps expired sessions from the durable store and the
// cache, returning the number of durable rows removed. This is called by
// the background sweeper, but can also be called manually.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.clock()

	s.mu.Lock()
	for hash, session := range s.cache {
		if session.IsExpiredAt(now) {
			delete(s.cache, hash)
			delete(s.byID, session.ID)
		}
	}
	s.updateCacheGauge()
	s.mu.Unlock()

	count, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, oops.Code("SESSION_CLEANUP_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}

	if s.sweptTotal != nil && count > 0 {
		s.sweptTotal.Add(float64(count))
	}
	return count, nil
}

// Start begins the periodic expiry sweep. Call Stop to cancel it.
func (s *SessionStore) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.sweepLoop(ctx)
}

// Stop stops the background sweeper and waits for it to finish.
func (s *SessionStore) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// CacheSize returns the number of cached sessions. Useful for testing and
// monitoring.
func (s *SessionStore) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func (s *SessionStore) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.CleanupExpired(ctx)
			if err != nil {
				s.logger.Error("session cleanup failed", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Info("removed expired sessions", "count", count)
				if s.cfg.Audit != nil {
					s.cfg.Audit.Log(ctx, audit.Event{
						Type:         audit.EventSessionCleanup,
						ResourceType: "session",
						Action:       "cleanup",
						Success:      true,
						Details:      map[string]any{"removed": count},
					})
				}
			}
		}
	}
}

// touchLastSeen updates LastSeenAt on the caller's session and persists it.
// Best effort; validation succeeds regardless. The session must not be
// shared with the cache yet, since the write is unsynchronized.
func (s *SessionStore) touchLastSeen(ctx context.Context, session *Session, now time.Time) {
	session.LastSeenAt = now
	if err := s.repo.UpdateLastSeen(ctx, session.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("failed to update session last seen", "session_id", session.ID.String(), "error", err)
	}
}

// cacheInsert publishes a session to the cache. gen is the generation
// observed before the durable read that produced the session; the insert is
// skipped when a destroy or revoke has advanced it since, because the row
// may no longer exist. A copy is stored so the caller's pointer never
// aliases the cached entry.
func (s *SessionStore) cacheInsert(session *Session, gen uint64) {
	if !s.cfg.CacheEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	cached := *session
	s.cache[cached.TokenHash] = &cached
	s.byID[cached.ID] = cached.TokenHash
	s.updateCacheGauge()
}

func (s *SessionStore) cacheGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *SessionStore) cacheLookup(tokenHash string) (*Session, bool) {
	if !s.cfg.CacheEnabled {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.cache[tokenHash]
	if !ok {
		return nil, false
	}
	// Return a copy so callers never mutate the cached entry.
	sessionCopy := *session
	return &sessionCopy, true
}

func (s *SessionStore) cacheEvict(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.cache[tokenHash]; ok {
		delete(s.cache, tokenHash)
		delete(s.byID, session.ID)
	}
	s.updateCacheGauge()
}

// cacheEvictByID removes a destroyed session and advances the generation so
// in-flight backfills of stale rows are rejected.
func (s *SessionStore) cacheEvictByID(sessionID ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if hash, ok := s.byID[sessionID]; ok {
		delete(s.cache, hash)
		delete(s.byID, sessionID)
	}
	s.updateCacheGauge()
}

// updateCacheGauge refreshes the cache gauge. Callers must hold s.mu.
func (s *SessionStore) updateCacheGauge() {
	if s.cacheGauge != nil {
		s.cacheGauge.Set(float64(len(s.cache)))
	}
}
