package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQueueRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisQueueRepository(client, "")
	ctx := context.Background()

	t.Run("EmptySlot", func(t *testing.T) {
		got, err := repo.LoadQueue(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		require.NoError(t, repo.SaveQueue(ctx, []byte(`[{"id":"s1"}]`)))

		got, err := repo.LoadQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"s1"}]`, string(got))

		raw, err := s.Get(DefaultRedisQueueKey)
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"s1"}]`, raw)
		assert.Zero(t, s.TTL(DefaultRedisQueueKey))
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("LOADING")
		defer s.SetError("")

		_, err := repo.LoadQueue(ctx)
		assert.Error(t, err)
		assert.Error(t, repo.SaveQueue(ctx, []byte(`[]`)))
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisQueueRepository(nil, "k")
		_, err := repo.LoadQueue(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
	})
}
