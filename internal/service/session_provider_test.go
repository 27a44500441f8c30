package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"transfit/internal/database"
	"transfit/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionProvider(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "auth.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	t.Run("SignedOut", func(t *testing.T) {
		p := NewSessionProvider(db, nil, &logger)
		s, err := p.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("StaticFallback", func(t *testing.T) {
		p := NewSessionProvider(db, &models.AuthSession{UserID: "u1", AccessToken: "tok"}, &logger)
		s, err := p.Session(ctx)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "u1", s.UserID)
	})

	t.Run("IncompleteStaticIgnored", func(t *testing.T) {
		p := NewSessionProvider(nil, &models.AuthSession{UserID: "u1"}, &logger)
		s, err := p.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("StoredWinsOverStatic", func(t *testing.T) {
		p := NewSessionProvider(db, &models.AuthSession{UserID: "static", AccessToken: "tok"}, &logger)
		require.NoError(t, p.Store(ctx, &models.AuthSession{UserID: "stored", AccessToken: "tok2", ExpiresAt: time.Now().Add(time.Hour)}))

		s, err := p.Session(ctx)
		require.NoError(t, err)
		assert.Equal(t, "stored", s.UserID)
	})

	t.Run("ExpiredStoredFallsBack", func(t *testing.T) {
		p := NewSessionProvider(db, &models.AuthSession{UserID: "static", AccessToken: "tok"}, &logger)
		require.NoError(t, p.Store(ctx, &models.AuthSession{UserID: "stored", AccessToken: "tok2", ExpiresAt: time.Now().Add(-time.Minute)}))

		s, err := p.Session(ctx)
		require.NoError(t, err)
		assert.Equal(t, "static", s.UserID)
	})

	t.Run("GarbageStoredIgnored", func(t *testing.T) {
		require.NoError(t, db.SetValue(ctx, models.AuthSessionSlot, []byte("garbage")))
		p := NewSessionProvider(db, nil, &logger)
		s, err := p.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})
}
