package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transfit/internal/domain"
	"transfit/internal/logging"
	"transfit/internal/models"

	"github.com/rs/zerolog"
)

// RetryQueueStore is the durable list of records whose remote write failed.
// It holds at most one item per (entity type, id).
type RetryQueueStore struct {
	repo   domain.RetryQueueRepository
	logger *zerolog.Logger
	now    func() time.Time

	// mu serialises read-modify-write cycles on the slot.
	mu sync.Mutex

	observersMu sync.RWMutex
	observers   []func(pending int)
}

func NewRetryQueueStore(repo domain.RetryQueueRepository, logger *zerolog.Logger) *RetryQueueStore {
	return &RetryQueueStore{
		repo:   repo,
		logger: logging.Component(logger, "retry_queue"),
		now:    time.Now,
	}
}

// OnChange registers a callback invoked with the queue length after every successful save.
func (s *RetryQueueStore) OnChange(fn func(pending int)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

// Load returns the persisted queue. Absent, unreadable or corrupt data yields an empty queue.
func (s *RetryQueueStore) Load(ctx context.Context) []models.RetryQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read retry queue")
		return []models.RetryQueueItem{}
	}
	return items
}

// Save overwrites the persisted queue.
func (s *RetryQueueStore) Save(ctx context.Context, items []models.RetryQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, items)
}

// Upsert records a failed write. An existing item gets the new payload and one more
// retry; otherwise the record is appended with a zero retry count.
func (s *RetryQueueStore) Upsert(ctx context.Context, entityType models.EntityType, id string, payload models.SyncableRecord) error {
	if !entityType.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownEntityType, entityType)
	}
	if payload == nil {
		return fmt.Errorf("queue %s:%s: payload is required", entityType, id)
	}
	if payload.EntityType() != entityType || payload.RecordID() != id {
		return fmt.Errorf("queue %s:%s: payload is %s:%s", entityType, id, payload.EntityType(), payload.RecordID())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s:%s: %w", entityType, id, err)
	}

	key := models.QueueKey{EntityType: entityType, ID: id}
	found := false
	for i := range items {
		if items[i].Key() == key {
			items[i].Payload = payload
			items[i].RetryCount++
			found = true
			break
		}
	}
	if !found {
		items = append(items, models.RetryQueueItem{
			EntityType: entityType,
			ID:         id,
			Payload:    payload,
			AddedAt:    s.now(),
		})
	}

	return s.save(ctx, items)
}

// Remove deletes the item for (entityType, id). Removing an absent item is not an error.
func (s *RetryQueueStore) Remove(ctx context.Context, entityType models.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("remove %s:%s: %w", entityType, id, err)
	}

	key := models.QueueKey{EntityType: entityType, ID: id}
	kept := items[:0]
	for _, item := range items {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	return s.save(ctx, kept)
}

// Len re-derives the queue length from storage.
func (s *RetryQueueStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// load distinguishes storage failures, which are returned, from corrupt content,
// which is logged and treated as an empty queue.
func (s *RetryQueueStore) load(ctx context.Context) ([]models.RetryQueueItem, error) {
	data, err := s.repo.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}

	items, invalid, err := models.DecodeRetryQueue(data)
	if errors.Is(err, models.ErrQueueCorrupt) {
		s.logger.Warn().Err(err).Msg("retry queue is corrupt, starting from an empty queue")
		return []models.RetryQueueItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	if invalid > 0 {
		s.logger.Warn().Int("invalid", invalid).Msg("skipped invalid retry queue items")
	}
	return items, nil
}

func (s *RetryQueueStore) save(ctx context.Context, items []models.RetryQueueItem) error {
	data, err := models.EncodeRetryQueue(items)
	if err != nil {
		return fmt.Errorf("encode retry queue: %w", err)
	}
	if err := s.repo.SaveQueue(ctx, data); err != nil {
		return fmt.Errorf("save retry queue: %w", err)
	}

	s.observersMu.RLock()
	observers := append([]func(int){}, s.observers...)
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(len(items))
	}
	return nil
}
