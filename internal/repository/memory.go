package repository

import (
	"context"
	"sync"

	"transfit/internal/domain"
)

// MemoryQueueRepository is a process-local queue slot. Its contents die with the process.
type MemoryQueueRepository struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{}
}

func (r *MemoryQueueRepository) LoadQueue(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return nil, nil
	}
	return append([]byte(nil), r.data...), nil
}

func (r *MemoryQueueRepository) SaveQueue(ctx context.Context, data []byte) error {
	r.mu.Lock()
	r.data = append([]byte(nil), data...)
	r.mu.Unlock()
	return nil
}

// KVQueueRepository stores the queue in a key-value slot of the local database.
type KVQueueRepository struct {
	store domain.KVStore
	key   string
}

func NewKVQueueRepository(store domain.KVStore, key string) *KVQueueRepository {
	return &KVQueueRepository{store: store, key: key}
}

func (r *KVQueueRepository) LoadQueue(ctx context.Context) ([]byte, error) {
	return r.store.GetValue(ctx, r.key)
}

func (r *KVQueueRepository) SaveQueue(ctx context.Context, data []byte) error {
	return r.store.SetValue(ctx, r.key, data)
}
