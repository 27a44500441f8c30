package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"transfit/internal/database"
	"transfit/internal/models"
	"transfit/internal/repository"
	"transfit/internal/service"

	"github.com/rs/zerolog"
)

var errRemote = errors.New("remote unavailable")

type fakeRemote struct {
	mu      sync.Mutex
	fail    map[string]bool
	failAll bool
	// lostAck applies the write but still reports a failure, once per id.
	lostAck map[string]bool
	panics  bool
	rows    map[string]map[string]map[string]any
	calls   int

	entered chan struct{}
	release chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fail:    map[string]bool{},
		lostAck: map[string]bool{},
		rows:    map[string]map[string]map[string]any{},
	}
}

func (f *fakeRemote) Upsert(_ context.Context, table string, row map[string]any) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("driver exploded")
	}
	id, _ := row["id"].(string)
	if f.failAll || f.fail[id] {
		return fmt.Errorf("upsert %s/%s: %w", table, id, errRemote)
	}
	if f.rows[table] == nil {
		f.rows[table] = map[string]map[string]any{}
	}
	f.rows[table][id] = row
	if f.lostAck[id] {
		delete(f.lostAck, id)
		return fmt.Errorf("upsert %s/%s: response lost: %w", table, id, errRemote)
	}
	return nil
}

func (f *fakeRemote) setFailAll(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAuth struct {
	mu      sync.Mutex
	session *models.AuthSession
	calls   int
}

func (a *fakeAuth) Session(context.Context) (*models.AuthSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.session, nil
}

type notification struct {
	kind    models.NotificationKind
	message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, kind models.NotificationKind, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: kind, message: message})
	return nil
}

func (n *fakeNotifier) count(kind models.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

type fakeEvents struct {
	mu    sync.Mutex
	names []string
}

func (e *fakeEvents) RecordEvent(name string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
}

func (e *fakeEvents) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) timerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d}
	t.f = func() {
		t.fired = true
		f()
	}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	db       *database.DB
	remote   *fakeRemote
	auth     *fakeAuth
	queue    *service.RetryQueueStore
	notifier *fakeNotifier
	events   *fakeEvents
	sched    *fakeScheduler
	svc      *SyncService
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()
	db := newTestDB(t)
	remote := newFakeRemote()
	queue := service.NewRetryQueueStore(repository.NewKVQueueRepository(db, models.RetryQueueSlot), &logger)

	h := &harness{
		db:       db,
		remote:   remote,
		auth:     &fakeAuth{session: &models.AuthSession{UserID: "user-1", AccessToken: "token"}},
		queue:    queue,
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		sched:    &fakeScheduler{},
	}

	h.svc = NewSyncService(Deps{
		Queue: queue,
		Syncers: Syncers{
			Profiles: service.NewEntitySyncer[*models.Profile](models.EntityProfile, db.Profiles(), remote, queue, &logger),
			Sessions: service.NewEntitySyncer[*models.Session](models.EntitySession, db.Sessions(), remote, queue, &logger),
			Plans:    service.NewEntitySyncer[*models.Plan](models.EntityPlan, db.Plans(), remote, queue, &logger),
			Feedback: service.NewFeedbackSyncer(db.Feedback(), remote, queue, &logger),
		},
		Auth:        h.auth,
		Notifier:    h.notifier,
		DeadLetters: db,
		Events:      h.events,
		Logger:      &logger,
	}, DefaultOptions())
	h.svc.afterFunc = h.sched.afterFunc
	return h
}

func (h *harness) saveSessions(t *testing.T, ids ...string) {
	t.Helper()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range ids {
		s := &models.Session{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), DurationMinutes: 30 + i}
		if err := h.db.SaveSession(context.Background(), s); err != nil {
			t.Fatalf("save session %s: %v", id, err)
		}
	}
}

func (h *harness) seedQueue(t *testing.T, items ...models.RetryQueueItem) {
	t.Helper()
	if err := h.queue.Save(context.Background(), items); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
}

func queuedSession(id string, retryCount int) models.RetryQueueItem {
	return models.RetryQueueItem{
		EntityType: models.EntitySession,
		ID:         id,
		Payload:    &models.Session{ID: id, StartedAt: time.Date(2025, 2, 1, 7, 0, 0, 0, time.UTC), DurationMinutes: 20},
		AddedAt:    time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
		RetryCount: retryCount,
	}
}

func (h *harness) failures() int {
	return h.svc.Status().ConsecutiveFailures
}
