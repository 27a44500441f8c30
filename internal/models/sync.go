package models

import "time"

// SyncResult summarises one orchestrator pass.
type SyncResult struct {
	Success        bool     `json:"success"`
	ProfileSynced  bool     `json:"profile_synced"`
	SessionsSynced int      `json:"sessions_synced"`
	PlansSynced    int      `json:"plans_synced"`
	FeedbackSynced int      `json:"feedback_synced"`
	PendingRetries int      `json:"pending_retries"`
	Dropped        int      `json:"dropped"`
	Errors         []string `json:"errors"`
}

// Rejected reports whether the pass was refused before it started.
func (r SyncResult) Rejected() bool {
	if r.Success || len(r.Errors) != 1 {
		return false
	}
	return r.Errors[0] == ErrAlreadySyncing.Error() || r.Errors[0] == ErrNoAuthSession.Error()
}

// RejectedResult builds the no-op result returned when a pass is refused.
func RejectedResult(reason error) SyncResult {
	return SyncResult{Errors: []string{reason.Error()}}
}

// SyncStatus is the in-memory view of the engine exposed to callers. It is never persisted.
type SyncStatus struct {
	IsSyncing           bool       `json:"is_syncing"`
	LastSyncAttempt     *time.Time `json:"last_sync_attempt,omitempty"`
	PendingSyncCount    int        `json:"pending_sync_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Errors              []string   `json:"errors"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
}

// AuthSession is the authenticated remote write credential.
type AuthSession struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session can no longer be used at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AppState is the host runtime's visibility state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// NotificationKind classifies user-facing notifications raised by the engine.
type NotificationKind string

const (
	NotifySyncFailing      NotificationKind = "sync_failing"
	NotifyManualSyncFailed NotificationKind = "manual_sync_failed"
)

// DeadLetter is a queue item that exhausted its retries and was dropped.
type DeadLetter struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Payload    string     `json:"payload"`
	RetryCount int        `json:"retry_count"`
	AddedAt    time.Time  `json:"added_at"`
	DroppedAt  time.Time  `json:"dropped_at"`
}
