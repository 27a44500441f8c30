package main

import (
	"path/filepath"
	"testing"

	"transfit/internal/config"
	"transfit/internal/database"
	"transfit/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitQueueRepository(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "syncd.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	t.Run("SQLite", func(t *testing.T) {
		cfg := &config.Config{Sync: config.SyncConfig{QueueBackend: config.QueueBackendSQLite}}
		repo, client, err := initQueueRepository(cfg, db, &logger)
		require.NoError(t, err)
		assert.Nil(t, client)
		assert.IsType(t, &repository.KVQueueRepository{}, repo)
	})

	t.Run("Memory", func(t *testing.T) {
		cfg := &config.Config{Sync: config.SyncConfig{QueueBackend: config.QueueBackendMemory}}
		repo, client, err := initQueueRepository(cfg, db, &logger)
		require.NoError(t, err)
		assert.Nil(t, client)
		assert.IsType(t, &repository.MemoryQueueRepository{}, repo)
	})
}
