package models

import "errors"

const (
	// MaxRetryCount is the retry ceiling; queued items at or above it are dropped on the next drain.
	MaxRetryCount = 5

	// SessionSweepLimit caps unsynced sessions fetched per pass.
	SessionSweepLimit = 50

	// PlanSweepLimit caps unsynced plans fetched per pass.
	PlanSweepLimit = 10

	// FeedbackSweepLimit caps unsynced feedback reports fetched per pass.
	FeedbackSweepLimit = 50

	// FailureNotifyThreshold is the number of consecutive failed passes before the user is warned.
	FailureNotifyThreshold = 3

	// DateLayout is the calendar date format used by plans.
	DateLayout = "2006-01-02"
)

const (
	// RetryQueueSlot is the key-value slot holding the JSON retry queue.
	RetryQueueSlot = "sync_retry_queue"

	// RetryCountsSlot is reserved for legacy retry-count bookkeeping and not read by the engine.
	RetryCountsSlot = "sync_retry_counts"

	// AuthSessionSlot holds the stored remote session.
	AuthSessionSlot = "auth_session"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var (
	ErrAlreadySyncing    = errors.New("Sync already in progress")
	ErrNoAuthSession     = errors.New("No auth session")
	ErrQueueCorrupt      = errors.New("retry queue is corrupt")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrNotFound          = errors.New("not found")
)
