// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

// Package auth provides the authentication core for CaseVault.
//
// # Domain Types
//
// Domain types (Account, Session) should be created using their
// respective constructors:
//   - NewAccount - creates an Account with validated username and credentials
//   - NewSession - creates a Session with validated subject and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Components
//
// Three independent primitives are composed by the Service:
//   - Argon2idHasher - password hashing and verification
//   - RateLimiter - sliding-window attempt throttling with lockout
//   - SessionStore - session lifecycle over a durable repository with an
//     optional in-memory cache
//
// The Service orchestrates registration, login, logout, and password
// change, emitting audit events through an injected sink.
package auth
