// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

// Package audit defines the audit event sink the authentication core emits
// through. Persistence of audit records is a collaborator's concern; this
// package only carries events to an injected sink and guarantees that
// logging failures never reach the primary request path.
package audit

import (
	"context"
	"log/slog"
)

// Event types emitted by the authentication core.
const (
	EventRegister       = "auth.register"
	EventLogin          = "auth.login"
	EventLogout         = "auth.logout"
	EventPasswordChange = "auth.password_change"
	EventRateLimitLock  = "auth.rate_limit_lock"
	EventSessionCleanup = "auth.session_cleanup"
)

// Event is a single structured audit event.
type Event struct {
	Type         string
	SubjectID    string
	ResourceType string
	ResourceID   string
	Action       string
	Success      bool
	Details      map[string]any
	ErrorMessage string
}

// Sink receives audit events. Implementations must not block the caller and
// must swallow their own failures; the primary path never depends on a
// successful write.
type Sink interface {
	Log(ctx context.Context, event Event)
}

// SlogSink writes audit events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink. A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Log writes the event at info level (warn when the action failed).
func (s *SlogSink) Log(ctx context.Context, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"subject_id", event.SubjectID,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"action", event.Action,
		"success", event.Success,
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, "error_message", event.ErrorMessage)
	}

	if event.Success {
		s.logger.InfoContext(ctx, "audit event", attrs...)
	} else {
		s.logger.WarnContext(ctx, "audit event", attrs...)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Log discards the event.
func (NopSink) Log(context.Context, Event) {}

// Compile-time interface checks.
var (
	_ Sink = (*SlogSink)(nil)
	_ Sink = NopSink{}
)
