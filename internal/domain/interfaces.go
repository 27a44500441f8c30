package domain

import (
	"context"
	"time"

	"transfit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RetryQueueRepository persists the whole retry queue in a single durable slot.
// An absent slot loads as (nil, nil).
type RetryQueueRepository interface {
	LoadQueue(ctx context.Context) ([]byte, error)
	SaveQueue(ctx context.Context, data []byte) error
}

type SyncableRepository[T models.SyncableRecord] interface {
	FetchUnsynced(ctx context.Context, limit int) ([]T, error)
	// Get returns models.ErrNotFound for a missing row.
	Get(ctx context.Context, id string) (T, error)
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
}

type ProfileRepository interface {
	SyncableRepository[*models.Profile]
}

type SessionRepository interface {
	SyncableRepository[*models.Session]
}

type PlanRepository interface {
	SyncableRepository[*models.Plan]
}

type FeedbackRepository interface {
	SyncableRepository[*models.Feedback]
	CountUnsynced(ctx context.Context) (int, error)
}

type DeadLetterStore interface {
	AddDeadLetter(ctx context.Context, item models.RetryQueueItem) error
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
	// DeadLetterKeys lists records held back from the sweep until a local edit releases them.
	DeadLetterKeys(ctx context.Context) (map[models.QueueKey]bool, error)
}

type KVStore interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
}

// RemoteStore is the single write primitive of the remote backend.
type RemoteStore interface {
	Upsert(ctx context.Context, table string, row map[string]any) error
}

type AuthProvider interface {
	Session(ctx context.Context) (*models.AuthSession, error)
}

type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, message string) error
}

type EventRecorder interface {
	RecordEvent(name string, props map[string]any)
}

// LifecycleSource delivers host visibility transitions. The returned func unsubscribes.
type LifecycleSource interface {
	Subscribe(handler func(state models.AppState)) func()
}

// EventPublisher is the analytics sink behind EventRecorder.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SyncEngine is the surface exposed to the HTTP API and the daemon.
type SyncEngine interface {
	SyncAll(ctx context.Context) models.SyncResult
	ForceSyncNow(ctx context.Context) models.SyncResult
	Status() models.SyncStatus
	GetPendingSyncCount(ctx context.Context) (int, error)
}
