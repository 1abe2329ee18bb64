// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casevault/casevault/internal/auth"
)

func TestNewAccount(t *testing.T) {
	hash := []byte("digest")
	salt := []byte("salt")

	t.Run("valid account", func(t *testing.T) {
		account, err := auth.NewAccount("alice", "Alice@Example.COM", hash, salt)
		require.NoError(t, err)

		assert.NotEqual(t, ulid.ULID{}, account.ID)
		assert.Equal(t, "alice", account.Username)
		assert.Equal(t, "alice@example.com", account.Email, "email is normalized to lowercase")
		assert.True(t, account.Active)
		assert.Nil(t, account.LastLoginAt)
		assert.False(t, account.CreatedAt.IsZero())
	})

	t.Run("empty email is rejected", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "", hash, salt)
		assert.Error(t, err)
	})

	t.Run("email without @ is rejected", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "not-an-email", hash, salt)
		assert.Error(t, err)
	})

	t.Run("empty hash is rejected", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "alice@example.com", nil, salt)
		assert.Error(t, err)
	})

	t.Run("empty salt is rejected", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "alice@example.com", hash, nil)
		assert.Error(t, err)
	})
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid simple", "alice", false},
		{"valid with underscore and digits", "case_worker_42", false},
		{"minimum length", "abc", false},
		{"maximum length", strings.Repeat("a", 30), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 31), true},
		{"starts with digit", "1alice", true},
		{"starts with underscore", "_alice", true},
		{"contains space", "alice smith", true},
		{"contains hyphen", "alice-smith", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
