package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"transfit/internal/domain"

	"github.com/rs/zerolog"
)

const primaryRecheckInterval = time.Minute

// FailoverQueueRepository reads the primary slot while it is healthy and falls back
// to a local slot when it fails. Every save is also written to the fallback so the
// local copy is never older than the last successful write.
type FailoverQueueRepository struct {
	primary  domain.RetryQueueRepository
	fallback domain.RetryQueueRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverQueueRepository(primary, fallback domain.RetryQueueRepository, logger *zerolog.Logger) *FailoverQueueRepository {
	return &FailoverQueueRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverQueueRepository) LoadQueue(ctx context.Context) ([]byte, error) {
	if r.isDown.Load() {
		if r.dueForRecheck() {
			// Пока primary был недоступен, актуальная копия лежала в fallback
			if err := r.resyncPrimary(ctx); err != nil {
				r.markDown(err)
			}
		}
		return r.fallback.LoadQueue(ctx)
	}

	data, err := r.primary.LoadQueue(ctx)
	if err == nil {
		return data, nil
	}
	r.markDown(err)
	return r.fallback.LoadQueue(ctx)
}

func (r *FailoverQueueRepository) SaveQueue(ctx context.Context, data []byte) error {
	if !r.isDown.Load() || r.dueForRecheck() {
		if err := r.primary.SaveQueue(ctx, data); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}
	return r.fallback.SaveQueue(ctx, data)
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverQueueRepository) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverQueueRepository) resyncPrimary(ctx context.Context) error {
	data, err := r.fallback.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("read fallback queue: %w", err)
	}
	if data != nil {
		if err := r.primary.SaveQueue(ctx, data); err != nil {
			return err
		}
	} else if _, err := r.primary.LoadQueue(ctx); err != nil {
		return err
	}
	r.markUp()
	return nil
}

func (r *FailoverQueueRepository) dueForRecheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) > primaryRecheckInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverQueueRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary queue repository failed, falling back to local store")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverQueueRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary queue repository recovered")
	}
}
