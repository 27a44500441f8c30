package worker

import (
	"context"
	"fmt"

	"transfit/internal/metrics"
	"transfit/internal/models"
)

// Status returns a snapshot of the in-memory sync status.
func (s *SyncService) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	st.IsSyncing = s.syncing.Load()
	st.Errors = append([]string{}, s.status.Errors...)
	if s.status.LastSyncAttempt != nil {
		t := *s.status.LastSyncAttempt
		st.LastSyncAttempt = &t
	}
	if s.status.NextRetryAt != nil {
		t := *s.status.NextRetryAt
		st.NextRetryAt = &t
	}
	return st
}

// GetPendingSyncCount re-reads the queue from storage and refreshes the mirrored count.
func (s *SyncService) GetPendingSyncCount(ctx context.Context) (int, error) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending sync items: %w", err)
	}

	s.mu.Lock()
	s.status.PendingSyncCount = n
	s.mu.Unlock()
	metrics.SetRetryQueueSize(n)
	return n, nil
}

// ForceSyncNow runs a pass for an explicit user request and notifies at once
// when it does not fully succeed.
func (s *SyncService) ForceSyncNow(ctx context.Context) models.SyncResult {
	result := s.SyncAll(ctx)
	if !result.Success {
		s.notify(ctx, models.NotifyManualSyncFailed, summarize(result.Errors))
	}
	return result
}
