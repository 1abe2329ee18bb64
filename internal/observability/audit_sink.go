// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package observability

import (
	"context"

	"github.com/casevault/casevault/internal/audit"
)

// AuditSink increments the authentication counters from audit events and
// forwards each event to the wrapped sink. Events carry the outcome, so no
// separate instrumentation path through the coordinator is needed.
type AuditSink struct {
	metrics *Metrics
	next    audit.Sink
}

// NewAuditSink wraps next with metric recording. A nil next discards events
// after counting them.
func NewAuditSink(metrics *Metrics, next audit.Sink) *AuditSink {
	if next == nil {
		next = audit.NopSink{}
	}
	return &AuditSink{metrics: metrics, next: next}
}

// Log counts the event and forwards it.
func (s *AuditSink) Log(ctx context.Context, event audit.Event) {
	status := "success"
	if !event.Success {
		status = "failure"
	}

	switch event.Type {
	case audit.EventLogin:
		s.metrics.LoginsTotal.WithLabelValues(status).Inc()
	case audit.EventRegister:
		s.metrics.RegistrationsTotal.WithLabelValues(status).Inc()
	case audit.EventPasswordChange:
		s.metrics.PasswordChangesTotal.WithLabelValues(status).Inc()
	}

	s.next.Log(ctx, event)
}

var _ audit.Sink = (*AuditSink)(nil)
