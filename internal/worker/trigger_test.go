package worker

import (
	"context"
	"sync"
	"testing"

	"transfit/internal/events"
	"transfit/internal/models"
)

type countingEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEngine) SyncAll(context.Context) models.SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return models.SyncResult{Success: true, Errors: []string{}}
}

func (e *countingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestForegroundTrigger(t *testing.T) {
	source := events.NewLifecycleSource(events.NewEventBus())
	engine := &countingEngine{}
	trig := NewForegroundTrigger(source, engine, nil)

	emit := func(state models.AppState) {
		if err := source.Emit(state); err != nil {
			t.Fatalf("emit %s: %v", state, err)
		}
		trig.wg.Wait()
	}

	unsub := trig.Start(context.Background())
	trig.wg.Wait()
	if engine.count() != 1 {
		t.Fatalf("expected startup pass, got %d", engine.count())
	}

	// a second Start does not subscribe twice or fire again
	trig.Start(context.Background())
	trig.wg.Wait()

	emit(models.AppStateActive)
	if engine.count() != 1 {
		t.Fatalf("active without leaving the foreground must not fire, got %d", engine.count())
	}

	emit(models.AppStateBackground)
	emit(models.AppStateActive)
	if engine.count() != 2 {
		t.Fatalf("expected pass on foreground transition, got %d", engine.count())
	}

	emit(models.AppStateInactive)
	emit(models.AppStateActive)
	if engine.count() != 3 {
		t.Fatalf("expected pass after inactive, got %d", engine.count())
	}

	unsub()
	emit(models.AppStateBackground)
	emit(models.AppStateActive)
	if engine.count() != 3 {
		t.Fatalf("unsubscribed trigger fired, got %d", engine.count())
	}
	trig.Stop()
}

func TestForegroundTriggerWithSyncService(t *testing.T) {
	h := newHarness(t)
	h.saveSessions(t, "s1")
	source := events.NewLifecycleSource(events.NewEventBus())

	trig := NewForegroundTrigger(source, h.svc, nil)
	trig.Start(context.Background())
	trig.Stop()

	if h.remote.callCount() != 1 {
		t.Fatalf("expected startup pass to push s1, got %d calls", h.remote.callCount())
	}
	if len(h.sched.active()) != 0 {
		t.Fatalf("trigger must not schedule retries")
	}
}

func TestForegroundTriggerSkipStartupPass(t *testing.T) {
	source := events.NewLifecycleSource(events.NewEventBus())
	engine := &countingEngine{}
	trig := NewForegroundTrigger(source, engine, nil)
	trig.SkipStartupPass()

	trig.Start(context.Background())
	trig.wg.Wait()
	if engine.count() != 0 {
		t.Fatalf("startup pass fired, got %d", engine.count())
	}

	if err := source.Emit(models.AppStateBackground); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := source.Emit(models.AppStateActive); err != nil {
		t.Fatalf("emit: %v", err)
	}
	trig.Stop()
	if engine.count() != 1 {
		t.Fatalf("expected one foreground pass, got %d", engine.count())
	}
}
