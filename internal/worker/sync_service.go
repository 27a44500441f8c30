package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"transfit/internal/config"
	"transfit/internal/domain"
	"transfit/internal/events"
	"transfit/internal/logging"
	"transfit/internal/metrics"
	"transfit/internal/models"
	"transfit/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Syncers groups the per-entity syncers in sweep order.
type Syncers struct {
	Profiles *service.EntitySyncer[*models.Profile]
	Sessions *service.EntitySyncer[*models.Session]
	Plans    *service.EntitySyncer[*models.Plan]
	Feedback *service.FeedbackSyncer
}

type Options struct {
	Retry           RetryPolicy
	SessionLimit    int
	PlanLimit       int
	FeedbackLimit   int
	NotifyThreshold int
	// PassTimeout bounds one pass. Passes outlive the caller's context so a shutdown
	// does not cut a drain in half.
	PassTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Retry:           DefaultRetryPolicy(),
		SessionLimit:    models.SessionSweepLimit,
		PlanLimit:       models.PlanSweepLimit,
		FeedbackLimit:   models.FeedbackSweepLimit,
		NotifyThreshold: models.FailureNotifyThreshold,
		PassTimeout:     2 * time.Minute,
	}
}

func OptionsFromConfig(cfg config.SyncConfig) Options {
	opts := DefaultOptions()
	opts.Retry = RetryPolicyFromConfig(cfg)
	if cfg.SessionLimit > 0 {
		opts.SessionLimit = cfg.SessionLimit
	}
	if cfg.PlanLimit > 0 {
		opts.PlanLimit = cfg.PlanLimit
	}
	if cfg.FeedbackLimit > 0 {
		opts.FeedbackLimit = cfg.FeedbackLimit
	}
	if cfg.NotifyThreshold > 0 {
		opts.NotifyThreshold = cfg.NotifyThreshold
	}
	if cfg.PassTimeout > 0 {
		opts.PassTimeout = cfg.PassTimeout
	}
	return opts
}

// Deps are the collaborators of the sync service. DeadLetters and Events are optional.
type Deps struct {
	Queue       *service.RetryQueueStore
	Syncers     Syncers
	Auth        domain.AuthProvider
	Notifier    domain.Notifier
	DeadLetters domain.DeadLetterStore
	Events      domain.EventRecorder
	Logger      *zerolog.Logger
}

type timerHandle interface {
	Stop() bool
}

type retrier interface {
	RetrySyncOne(ctx context.Context, userID string, item models.RetryQueueItem) error
}

// SyncService runs sync passes: drain the retry queue, then sweep unsynced local rows.
// At most one pass runs at a time; at most one future pass is scheduled.
type SyncService struct {
	queue       *service.RetryQueueStore
	syncers     Syncers
	auth        domain.AuthProvider
	notifier    domain.Notifier
	deadLetters domain.DeadLetterStore
	events      domain.EventRecorder
	logger      *zerolog.Logger
	opts        Options

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timerHandle

	syncing atomic.Bool

	mu       sync.Mutex
	status   models.SyncStatus
	notified bool
	timer    timerHandle
	timerGen uint64
	baseCtx  context.Context
	stopped  bool
	wg       sync.WaitGroup
}

func NewSyncService(deps Deps, opts Options) *SyncService {
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = DefaultOptions().PassTimeout
	}

	s := &SyncService{
		queue:       deps.Queue,
		syncers:     deps.Syncers,
		auth:        deps.Auth,
		notifier:    deps.Notifier,
		deadLetters: deps.DeadLetters,
		events:      deps.Events,
		logger:      logging.Component(deps.Logger, "sync"),
		opts:        opts,
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) timerHandle {
			return time.AfterFunc(d, f)
		},
		baseCtx: context.Background(),
		status:  models.SyncStatus{Errors: []string{}},
	}

	s.queue.OnChange(func(pending int) {
		s.mu.Lock()
		s.status.PendingSyncCount = pending
		s.mu.Unlock()
		metrics.SetRetryQueueSize(pending)
	})
	return s
}

// Start sets the context used by scheduled passes. It does not run a pass.
func (s *SyncService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
	s.stopped = false
}

// Stop cancels the scheduled pass and waits for a scheduled pass already running.
func (s *SyncService) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelScheduledLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// pass carries the state of one run.
type pass struct {
	id     string
	userID string
	logger *zerolog.Logger
	result models.SyncResult
	wrote  bool
	// skip holds records the sweeps must leave alone: queued, dropped this pass or
	// held in the dead-letter table.
	skip map[models.QueueKey]bool
}

func (p *pass) fail(err error) {
	p.result.Errors = append(p.result.Errors, err.Error())
}

// SyncAll runs one pass. It is rejected without any I/O beyond the session lookup when
// a pass is already running or no session is available. Cancelling ctx after the session
// lookup does not interrupt the pass; Options.PassTimeout does.
func (s *SyncService) SyncAll(ctx context.Context) models.SyncResult {
	if !s.syncing.CompareAndSwap(false, true) {
		return s.reject(models.ErrAlreadySyncing, nil)
	}

	result, retryIn := s.runPass(ctx)
	if retryIn != nil {
		// Флаг уже снят: отложенный проход не упрется в ErrAlreadySyncing
		s.mu.Lock()
		s.scheduleLocked(*retryIn)
		s.mu.Unlock()
	}
	return result
}

// runPass owns the in-flight flag for the duration of one pass and returns the delay of
// the next pass, if one is needed.
func (s *SyncService) runPass(ctx context.Context) (models.SyncResult, *time.Duration) {
	defer s.syncing.Store(false)

	session, err := s.auth.Session(ctx)
	if err != nil || session == nil || session.UserID == "" {
		return s.reject(models.ErrNoAuthSession, err), nil
	}

	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PassTimeout)
	defer cancel()

	start := s.now()
	p := &pass{
		id:     uuid.NewString(),
		userID: session.UserID,
		result: models.SyncResult{Errors: []string{}},
		skip:   map[models.QueueKey]bool{},
	}
	p.logger = logging.Pass(s.logger, p.id)

	s.mu.Lock()
	attempt := start
	s.status.LastSyncAttempt = &attempt
	s.mu.Unlock()

	p.logger.Debug().Msg("sync pass started")
	s.run(passCtx, p)
	// Итоги считаются и после таймаута прохода
	retryIn := s.finish(context.WithoutCancel(ctx), p)

	outcome := metrics.OutcomeSuccess
	if !p.result.Success {
		outcome = metrics.OutcomeFailure
	}
	metrics.ObservePass(outcome, s.now().Sub(start))
	return p.result, retryIn
}

func (s *SyncService) reject(reason error, cause error) models.SyncResult {
	ev := s.logger.Debug().Str("reason", reason.Error())
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("sync pass rejected")

	metrics.ObservePass(metrics.OutcomeRejected, 0)
	s.record(events.EventSyncRejected, map[string]any{"reason": reason.Error()})
	return models.RejectedResult(reason)
}

func (s *SyncService) run(ctx context.Context, p *pass) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("sync pass panicked")
			p.fail(fmt.Errorf("sync pass panic: %v", r))
		}
	}()

	s.drain(ctx, p)

	for _, item := range s.queue.Load(ctx) {
		p.skip[item.Key()] = true
	}
	s.skipDeadLetters(ctx, p)

	if s.syncers.Profiles != nil {
		sweep(ctx, s, p, s.syncers.Profiles, 1)
	}
	if s.syncers.Sessions != nil {
		sweep(ctx, s, p, s.syncers.Sessions, s.opts.SessionLimit)
	}
	if s.syncers.Plans != nil {
		sweep(ctx, s, p, s.syncers.Plans, s.opts.PlanLimit)
	}
	if s.syncers.Feedback != nil {
		s.sweepFeedback(ctx, p)
	}
}

// drain retries every queued item once. Items at the ceiling are dropped.
func (s *SyncService) drain(ctx context.Context, p *pass) {
	for _, item := range s.queue.Load(ctx) {
		if err := ctx.Err(); err != nil {
			p.fail(fmt.Errorf("drain interrupted: %w", err))
			return
		}

		if s.opts.Retry.Exhausted(item.RetryCount) {
			s.drop(ctx, p, item)
			continue
		}

		r := s.retrierFor(item.EntityType)
		if r == nil {
			p.fail(fmt.Errorf("no syncer for %s", item.Key()))
			continue
		}

		err := r.RetrySyncOne(ctx, p.userID, item)
		if err == nil {
			s.succeeded(p, item.EntityType)
			continue
		}

		// RetrySyncOne has already put the item back with one more retry
		metrics.IncRecord(string(item.EntityType), metrics.ResultFailed)
		p.logger.Info().Err(err).Str("item", item.Key().String()).Int("retry_count", item.RetryCount).Msg("retry failed")
		p.fail(err)
	}
}

// skipDeadLetters keeps dropped records out of the sweeps until a local edit releases them.
func (s *SyncService) skipDeadLetters(ctx context.Context, p *pass) {
	if s.deadLetters == nil {
		return
	}
	keys, err := s.deadLetters.DeadLetterKeys(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to load dead letter keys")
		return
	}
	for key := range keys {
		p.skip[key] = true
	}
}

func (s *SyncService) drop(ctx context.Context, p *pass, item models.RetryQueueItem) {
	if err := s.queue.Remove(ctx, item.EntityType, item.ID); err != nil {
		p.fail(fmt.Errorf("drop %s: %w", item.Key(), err))
		return
	}
	p.skip[item.Key()] = true

	p.result.Dropped++
	metrics.IncRecord(string(item.EntityType), metrics.ResultDropped)
	p.logger.Warn().
		Str("entity_type", string(item.EntityType)).
		Str("id", item.ID).
		Int("retry_count", item.RetryCount).
		Time("added_at", item.AddedAt).
		Msg("retry limit reached, dropping queued record")

	if s.deadLetters != nil {
		if err := s.deadLetters.AddDeadLetter(ctx, item); err != nil {
			p.logger.Error().Err(err).Str("item", item.Key().String()).Msg("failed to record dead letter")
		}
	}
	s.record(events.EventSyncItemDropped, map[string]any{
		"entity_type": string(item.EntityType),
		"id":          item.ID,
		"retry_count": item.RetryCount,
	})
}

func (s *SyncService) retrierFor(t models.EntityType) retrier {
	switch t {
	case models.EntityProfile:
		if s.syncers.Profiles != nil {
			return s.syncers.Profiles
		}
	case models.EntitySession:
		if s.syncers.Sessions != nil {
			return s.syncers.Sessions
		}
	case models.EntityPlan:
		if s.syncers.Plans != nil {
			return s.syncers.Plans
		}
	case models.EntityFeedback:
		if s.syncers.Feedback != nil {
			return s.syncers.Feedback
		}
	}
	return nil
}

// sweep pushes up to limit unsynced rows of one kind and enqueues the failures.
func sweep[T models.SyncableRecord](ctx context.Context, s *SyncService, p *pass, syncer *service.EntitySyncer[T], limit int) {
	records, err := syncer.FetchUnsynced(ctx, limit)
	if err != nil {
		p.fail(err)
		return
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			p.fail(fmt.Errorf("%s sweep interrupted: %w", syncer.EntityType(), err))
			return
		}
		key := models.QueueKey{EntityType: syncer.EntityType(), ID: rec.RecordID()}
		if p.skip[key] {
			continue
		}

		if err := syncer.SyncOne(ctx, p.userID, rec); err != nil {
			s.failed(p, key, err, func() error { return syncer.Enqueue(ctx, rec) })
			continue
		}
		s.succeeded(p, syncer.EntityType())
	}
}

func (s *SyncService) sweepFeedback(ctx context.Context, p *pass) {
	skip := func(id string) bool {
		return p.skip[models.QueueKey{EntityType: models.EntityFeedback, ID: id}]
	}
	observe := func(report *models.Feedback, err error) {
		if err == nil {
			s.succeeded(p, models.EntityFeedback)
			return
		}
		key := models.QueueKey{EntityType: models.EntityFeedback, ID: report.ID}
		s.failed(p, key, err, func() error { return s.syncers.Feedback.Enqueue(ctx, report) })
	}

	if _, err := s.syncers.Feedback.SyncPending(ctx, p.userID, s.opts.FeedbackLimit, skip, observe); err != nil {
		p.fail(err)
	}
}

// succeeded counts one acknowledged write, from the drain or a sweep, and resets
// escalation immediately.
func (s *SyncService) succeeded(p *pass, t models.EntityType) {
	metrics.IncRecord(string(t), metrics.ResultSynced)
	switch t {
	case models.EntityProfile:
		p.result.ProfileSynced = true
	case models.EntitySession:
		p.result.SessionsSynced++
	case models.EntityPlan:
		p.result.PlansSynced++
	case models.EntityFeedback:
		p.result.FeedbackSynced++
	}
	p.wrote = true

	s.mu.Lock()
	s.status.ConsecutiveFailures = 0
	s.notified = false
	s.mu.Unlock()
	metrics.SetConsecutiveFailures(0)
}

func (s *SyncService) failed(p *pass, key models.QueueKey, err error, enqueue func() error) {
	metrics.IncRecord(string(key.EntityType), metrics.ResultFailed)
	p.logger.Info().Err(err).Str("item", key.String()).Msg("push failed, queued for retry")
	p.fail(err)
	if err := enqueue(); err != nil {
		p.fail(fmt.Errorf("enqueue %s: %w", key, err))
		return
	}
	p.skip[key] = true
}

// finish computes the result and escalates when needed. It returns the delay of the next
// pass when the queue is not empty; the caller arms the timer once the pass is released.
func (s *SyncService) finish(ctx context.Context, p *pass) *time.Duration {
	pending := len(s.queue.Load(ctx))
	p.result.PendingRetries = pending
	p.result.Success = len(p.result.Errors) == 0 && pending == 0

	var (
		notify  bool
		retryIn *time.Duration
	)
	s.mu.Lock()
	s.status.PendingSyncCount = pending
	s.status.Errors = append([]string{}, p.result.Errors...)
	if pending > 0 {
		if !p.wrote {
			s.status.ConsecutiveFailures++
		}
		d := s.opts.Retry.Delay(s.status.ConsecutiveFailures)
		retryIn = &d
		if s.status.ConsecutiveFailures >= s.opts.NotifyThreshold && !s.notified {
			s.notified = true
			notify = true
		}
	} else {
		s.cancelScheduledLocked()
	}
	failures := s.status.ConsecutiveFailures
	s.mu.Unlock()

	metrics.SetConsecutiveFailures(failures)
	metrics.SetRetryQueueSize(pending)

	p.logger.Info().
		Bool("success", p.result.Success).
		Bool("profile", p.result.ProfileSynced).
		Int("sessions", p.result.SessionsSynced).
		Int("plans", p.result.PlansSynced).
		Int("feedback", p.result.FeedbackSynced).
		Int("dropped", p.result.Dropped).
		Int("pending", pending).
		Int("consecutive_failures", failures).
		Msg("sync pass finished")

	name := events.EventSyncCompleted
	if !p.result.Success {
		name = events.EventSyncFailed
	}
	s.record(name, map[string]any{
		"pass_id":              p.id,
		"sessions_synced":      p.result.SessionsSynced,
		"plans_synced":         p.result.PlansSynced,
		"feedback_synced":      p.result.FeedbackSynced,
		"pending_retries":      pending,
		"dropped":              p.result.Dropped,
		"consecutive_failures": failures,
	})

	if notify {
		msg := fmt.Sprintf("%d changes could not be synced after %d attempts. They will keep retrying in the background.", pending, failures)
		s.notify(ctx, models.NotifySyncFailing, msg)
	}
	return retryIn
}

func (s *SyncService) scheduleLocked(d time.Duration) {
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	at := s.now().Add(d)
	s.status.NextRetryAt = &at
	s.timer = s.afterFunc(d, func() { s.runScheduled(gen) })
	s.logger.Debug().Dur("delay", d).Msg("next sync pass scheduled")
}

func (s *SyncService) cancelScheduledLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	s.status.NextRetryAt = nil
}

func (s *SyncService) runScheduled(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.status.NextRetryAt = nil
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.SyncAll(ctx)
}

func (s *SyncService) notify(ctx context.Context, kind models.NotificationKind, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, kind, msg); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to notify user")
	}
}

func (s *SyncService) record(name string, props map[string]any) {
	if s.events != nil {
		s.events.RecordEvent(name, props)
	}
}

func summarize(errs []string) string {
	if len(errs) == 0 {
		return "Some changes are still waiting to sync."
	}
	const maxShown = 3
	if len(errs) > maxShown {
		return strings.Join(errs[:maxShown], "; ") + fmt.Sprintf(" (and %d more)", len(errs)-maxShown)
	}
	return strings.Join(errs, "; ")
}
