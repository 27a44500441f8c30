package service

import (
	"context"
	"fmt"

	"transfit/internal/domain"
	"transfit/internal/models"

	"github.com/rs/zerolog"
)

// FeedbackSyncer owns the feedback sweep. Callers observe each record's outcome.
type FeedbackSyncer struct {
	*EntitySyncer[*models.Feedback]
	reports domain.FeedbackRepository
}

func NewFeedbackSyncer(repo domain.FeedbackRepository, remote domain.RemoteStore, queue *RetryQueueStore, logger *zerolog.Logger) *FeedbackSyncer {
	return &FeedbackSyncer{
		EntitySyncer: NewEntitySyncer[*models.Feedback](models.EntityFeedback, repo, remote, queue, logger),
		reports:      repo,
	}
}

func (s *FeedbackSyncer) UnsyncedCount(ctx context.Context) (int, error) {
	n, err := s.reports.CountUnsynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unsynced feedback: %w", err)
	}
	return n, nil
}

// SyncPending pushes up to limit unsynced reports, skipping ids for which skip returns
// true. observe is called once per attempted report with the push error (nil on success).
// It returns how many reports were synced.
func (s *FeedbackSyncer) SyncPending(
	ctx context.Context,
	userID string,
	limit int,
	skip func(id string) bool,
	observe func(report *models.Feedback, err error),
) (int, error) {
	reports, err := s.FetchUnsynced(ctx, limit)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, report := range reports {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if skip != nil && skip(report.ID) {
			continue
		}
		err := s.SyncOne(ctx, userID, report)
		if err == nil {
			synced++
		}
		if observe != nil {
			observe(report, err)
		}
	}
	return synced, nil
}
