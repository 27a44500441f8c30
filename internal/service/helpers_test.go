package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"transfit/internal/models"
	"transfit/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

type MockRemoteStore struct {
	mock.Mock
}

func (m *MockRemoteStore) Upsert(ctx context.Context, table string, row map[string]any) error {
	args := m.Called(ctx, table, row)
	return args.Error(0)
}

// memRepo is an in-memory SyncableRepository.
type memRepo[T models.SyncableRecord] struct {
	mu       sync.Mutex
	records  []T
	synced   map[string]time.Time
	fetchErr error
}

func newMemRepo[T models.SyncableRecord](records ...T) *memRepo[T] {
	return &memRepo[T]{records: records, synced: map[string]time.Time{}}
}

func (r *memRepo[T]) FetchUnsynced(_ context.Context, limit int) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	var out []T
	for _, rec := range r.records {
		if _, ok := r.synced[rec.RecordID()]; ok {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get reads stamped rows as gone; T carries no setter for synced_at.
func (r *memRepo[T]) Get(_ context.Context, id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if _, ok := r.synced[id]; ok {
		return zero, models.ErrNotFound
	}
	for _, rec := range r.records {
		if rec.RecordID() == id {
			return rec, nil
		}
	}
	return zero, models.ErrNotFound
}

// put replaces a record as a local edit would, clearing its synced stamp.
func (r *memRepo[T]) put(rec T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.synced, rec.RecordID())
	for i := range r.records {
		if r.records[i].RecordID() == rec.RecordID() {
			r.records[i] = rec
			return
		}
	}
	r.records = append(r.records, rec)
}

func (r *memRepo[T]) MarkSynced(_ context.Context, id string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.RecordID() == id {
			r.synced[id] = syncedAt
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *memRepo[T]) CountUnsynced(ctx context.Context) (int, error) {
	recs, err := r.FetchUnsynced(ctx, len(r.records))
	return len(recs), err
}

func (r *memRepo[T]) isSynced(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.synced[id]
	return ok
}

type brokenQueueRepo struct {
	loadErr error
	saves   int
}

func (r *brokenQueueRepo) LoadQueue(context.Context) ([]byte, error) { return nil, r.loadErr }
func (r *brokenQueueRepo) SaveQueue(context.Context, []byte) error {
	r.saves++
	return nil
}

var errRemoteDown = errors.New("remote unavailable")

func newTestQueue() (*RetryQueueStore, *repository.MemoryQueueRepository) {
	repo := repository.NewMemoryQueueRepository()
	logger := zerolog.Nop()
	return NewRetryQueueStore(repo, &logger), repo
}

func testSession(id string) *models.Session {
	return &models.Session{ID: id, StartedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), DurationMinutes: 40}
}
