// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Listener receives notifications about authentication events. Listeners
// are invoked synchronously in registration order; a slow listener delays
// the request, so implementations should hand off heavy work.
type Listener interface {
	// OnLogin is called after a successful login or registration
	// auto-login, with the freshly created session.
	OnLogin(ctx context.Context, session *Session)

	// OnLogout is called after a session is destroyed via logout.
	OnLogout(ctx context.Context, sessionID ulid.ULID)

	// OnPasswordChange is called after a successful password change, once
	// all prior sessions for the subject have been revoked.
	OnPasswordChange(ctx context.Context, subjectID ulid.ULID)
}
