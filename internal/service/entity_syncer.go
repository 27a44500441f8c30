package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfit/internal/domain"
	"transfit/internal/models"

	"github.com/rs/zerolog"
)

// EntitySyncer pushes one kind of local record to its remote table.
type EntitySyncer[T models.SyncableRecord] struct {
	entity models.EntityType
	repo   domain.SyncableRepository[T]
	remote domain.RemoteStore
	queue  *RetryQueueStore
	logger *zerolog.Logger
	now    func() time.Time
}

func NewEntitySyncer[T models.SyncableRecord](
	entity models.EntityType,
	repo domain.SyncableRepository[T],
	remote domain.RemoteStore,
	queue *RetryQueueStore,
	logger *zerolog.Logger,
) *EntitySyncer[T] {
	l := logger.With().Str("component", "syncer").Str("entity", string(entity)).Logger()
	return &EntitySyncer[T]{
		entity: entity,
		repo:   repo,
		remote: remote,
		queue:  queue,
		logger: &l,
		now:    time.Now,
	}
}

func (s *EntitySyncer[T]) EntityType() models.EntityType {
	return s.entity
}

func (s *EntitySyncer[T]) FetchUnsynced(ctx context.Context, limit int) ([]T, error) {
	records, err := s.repo.FetchUnsynced(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsynced %s: %w", s.entity, err)
	}
	return records, nil
}

// PushOne upserts the record into the remote table and returns the acknowledgement time.
// Remote failures, including panics inside the remote client, come back as errors.
func (s *EntitySyncer[T]) PushOne(ctx context.Context, userID string, record T) (time.Time, error) {
	return s.push(ctx, userID, record)
}

func (s *EntitySyncer[T]) MarkSyncedLocally(ctx context.Context, id string, syncedAt time.Time) error {
	err := s.repo.MarkSynced(ctx, id, syncedAt)
	if errors.Is(err, models.ErrNotFound) {
		// Запись удалили локально после отправки
		s.logger.Debug().Str("id", id).Msg("local row gone, nothing to mark")
		return nil
	}
	return err
}

// SyncOne pushes the record and stamps the local row on success.
func (s *EntitySyncer[T]) SyncOne(ctx context.Context, userID string, record T) error {
	syncedAt, err := s.PushOne(ctx, userID, record)
	if err != nil {
		return err
	}
	if err := s.MarkSyncedLocally(ctx, record.RecordID(), syncedAt); err != nil {
		s.logger.Warn().Err(err).Str("id", record.RecordID()).Msg("remote accepted record but local mark failed")
	}
	return nil
}

// RetrySyncOne resends a queued record. When the local row was edited after the item was
// queued, the local row is sent instead of the stale payload and stamped synced on success.
// A failed push is queued again with whatever was sent.
func (s *EntitySyncer[T]) RetrySyncOne(ctx context.Context, userID string, item models.RetryQueueItem) error {
	if item.EntityType != s.entity {
		return fmt.Errorf("%s syncer cannot retry %s item", s.entity, item.EntityType)
	}

	local, edited := s.unsyncedLocal(ctx, item.ID)
	var record models.SyncableRecord = item.Payload
	if edited {
		record = local
	}

	syncedAt, err := s.push(ctx, userID, record)
	if err != nil {
		var qerr error
		if edited {
			qerr = s.Enqueue(ctx, local)
		} else {
			qerr = s.queue.Upsert(ctx, item.EntityType, item.ID, item.Payload)
		}
		if qerr != nil {
			return errors.Join(err, fmt.Errorf("requeue %s: %w", item.Key(), qerr))
		}
		return err
	}

	if err := s.queue.Remove(ctx, item.EntityType, item.ID); err != nil {
		// Повторная отправка идемпотентна, элемент уйдет на следующем проходе
		s.logger.Warn().Err(err).Str("id", item.ID).Msg("failed to remove synced item from retry queue")
	}
	if !edited {
		return nil
	}
	if err := s.MarkSyncedLocally(ctx, item.ID, syncedAt); err != nil {
		s.logger.Warn().Err(err).Str("id", item.ID).Msg("remote accepted retry but local mark failed")
	}
	return nil
}

// Enqueue records a failed push in the retry queue.
func (s *EntitySyncer[T]) Enqueue(ctx context.Context, record T) error {
	return s.queue.Upsert(ctx, s.entity, record.RecordID(), record)
}

// unsyncedLocal returns the local row when it holds changes the remote has not acknowledged.
func (s *EntitySyncer[T]) unsyncedLocal(ctx context.Context, id string) (T, bool) {
	var zero T
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Str("id", id).Msg("failed to read local row, retrying queued payload")
		}
		return zero, false
	}
	if rec.IsSynced() {
		return zero, false
	}
	return rec, true
}

func (s *EntitySyncer[T]) push(ctx context.Context, userID string, record models.SyncableRecord) (syncedAt time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push %s: panic: %v", s.entity, r)
		}
	}()

	if record == nil {
		return time.Time{}, fmt.Errorf("push %s: nil record", s.entity)
	}
	syncedAt = s.now().UTC()
	row := record.RemoteRow(userID, syncedAt)
	if err := s.remote.Upsert(ctx, s.entity.Table(), row); err != nil {
		return time.Time{}, fmt.Errorf("push %s %s: %w", s.entity, record.RecordID(), err)
	}
	return syncedAt, nil
}
