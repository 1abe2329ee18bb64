// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casevault/casevault/internal/auth"
	"github.com/casevault/casevault/internal/auth/postgres"
)

// newTestAccount builds a persisted-ready account with a unique identity.
func newTestAccount(t *testing.T, username string) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount(username, username+"@example.com", []byte("digest"), []byte("salt"))
	require.NoError(t, err)
	return account
}

// cleanupAccount deletes an account row (sessions cascade).
func cleanupAccount(t *testing.T, id ulid.ULID) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts WHERE id = $1`, id.String())
	})
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("creates a new account", func(t *testing.T) {
		account := newTestAccount(t, "create_user")

		require.NoError(t, repo.Create(ctx, account))
		cleanupAccount(t, account.ID)

		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.ID, stored.ID)
		assert.Equal(t, account.Username, stored.Username)
		assert.Equal(t, account.Email, stored.Email)
		assert.Equal(t, account.PasswordHash, stored.PasswordHash)
		assert.Equal(t, account.PasswordSalt, stored.PasswordSalt)
		assert.True(t, stored.Active)
		assert.Nil(t, stored.LastLoginAt)
	})

	t.Run("duplicate username is rejected case-insensitively", func(t *testing.T) {
		account := newTestAccount(t, "dup_username")
		require.NoError(t, repo.Create(ctx, account))
		cleanupAccount(t, account.ID)

		dup, err := auth.NewAccount("DUP_username", "unique_dup@example.com", []byte("digest"), []byte("salt"))
		require.NoError(t, err)

		err = repo.Create(ctx, dup)
		assert.ErrorIs(t, err, auth.ErrDuplicateIdentity)
	})

	t.Run("duplicate email is rejected case-insensitively", func(t *testing.T) {
		account := newTestAccount(t, "dup_email")
		require.NoError(t, repo.Create(ctx, account))
		cleanupAccount(t, account.ID)

		dup, err := auth.NewAccount("dup_email_other", "DUP_EMAIL@example.com", []byte("digest"), []byte("salt"))
		require.NoError(t, err)

		err = repo.Create(ctx, dup)
		assert.ErrorIs(t, err, auth.ErrDuplicateIdentity)
	})
}

func TestAccountRepository_Get(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	account := newTestAccount(t, "lookup_user")
	require.NoError(t, repo.Create(ctx, account))
	cleanupAccount(t, account.ID)

	t.Run("by username is case-insensitive", func(t *testing.T) {
		stored, err := repo.GetByUsername(ctx, "LOOKUP_USER")
		require.NoError(t, err)
		assert.Equal(t, account.ID, stored.ID)
	})

	t.Run("by email is case-insensitive", func(t *testing.T) {
		stored, err := repo.GetByEmail(ctx, "LOOKUP_USER@example.com")
		require.NoError(t, err)
		assert.Equal(t, account.ID, stored.ID)
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, ulid.Make())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("unknown username reports not found", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nosuchuser")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("unknown email reports not found", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nosuch@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestAccountRepository_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("replaces hash and salt together", func(t *testing.T) {
		account := newTestAccount(t, "pwchange_user")
		require.NoError(t, repo.Create(ctx, account))
		cleanupAccount(t, account.ID)

		require.NoError(t, repo.UpdatePassword(ctx, account.ID, []byte("newdigest"), []byte("newsalt")))

		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("newdigest"), stored.PasswordHash)
		assert.Equal(t, []byte("newsalt"), stored.PasswordSalt)
		assert.True(t, stored.UpdatedAt.After(account.UpdatedAt))
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		err := repo.UpdatePassword(ctx, ulid.Make(), []byte("digest"), []byte("salt"))
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestAccountRepository_UpdateLastLogin(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	t.Run("records the login time", func(t *testing.T) {
		account := newTestAccount(t, "lastlogin_user")
		require.NoError(t, repo.Create(ctx, account))
		cleanupAccount(t, account.ID)

		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.UpdateLastLogin(ctx, account.ID, at))

		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastLoginAt)
		assert.Equal(t, at, stored.LastLoginAt.UTC())
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		err := repo.UpdateLastLogin(ctx, ulid.Make(), time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
