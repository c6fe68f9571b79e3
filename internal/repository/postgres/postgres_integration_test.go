//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository/postgres"
)

// setupPostgres starts a PostgreSQL container, migrates it and returns an
// open DB. Everything is torn down by t.Cleanup.
func setupPostgres(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("authcore_test"),
		tcpostgres.WithUsername("authcore"),
		tcpostgres.WithPassword("authcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := postgres.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, m.Close())

	db, err := postgres.Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestPostgres_DirectoryAndSessions(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := db.Users()
	sessions := db.Sessions(time.Hour)

	ada := &model.User{Username: "ada", Email: model.StringPtr("ada@example.com"), PasswordDigest: "d"}
	require.NoError(t, users.Create(ctx, ada))
	assert.NotZero(t, ada.ID)

	err := users.Create(ctx, &model.User{Username: "ada", PasswordDigest: "d"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateUsername)
	err = users.Create(ctx, &model.User{Username: "other", Email: model.StringPtr("ada@example.com"), PasswordDigest: "d"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateEmail)

	// Reset token: set, redeem once, concurrent losers fail.
	require.NoError(t, users.SetResetToken(ctx, ada.ID, "hash", time.Now().Add(time.Hour)))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := users.RedeemResetToken(ctx, "hash", "fresh", time.Now()); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())

	got, err := users.GetByID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.PasswordDigest)
	assert.Nil(t, got.ResetTokenHash)

	// Sessions.
	_, token, err := sessions.Create(ctx, ada.ID)
	require.NoError(t, err)
	sess, err := sessions.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, sess.UserID)

	n, err := sessions.DestroyForUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, db.Ping(ctx))
}
