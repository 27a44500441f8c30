package worker

import (
	"context"
	"sync"

	"transfit/internal/domain"
	"transfit/internal/logging"
	"transfit/internal/models"

	"github.com/rs/zerolog"
)

type passRunner interface {
	SyncAll(ctx context.Context) models.SyncResult
}

// ForegroundTrigger runs a pass once at start and on every transition into the foreground.
// It never schedules retries.
type ForegroundTrigger struct {
	source domain.LifecycleSource
	engine passRunner
	logger *zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	last        models.AppState
	unsub       func()
	skipStartup bool
	wg          sync.WaitGroup
}

func NewForegroundTrigger(source domain.LifecycleSource, engine passRunner, logger *zerolog.Logger) *ForegroundTrigger {
	return &ForegroundTrigger{source: source, engine: engine, logger: logging.Component(logger, "foreground_trigger")}
}

// SkipStartupPass makes Start only subscribe. Must be called before Start.
func (t *ForegroundTrigger) SkipStartupPass() {
	t.mu.Lock()
	t.skipStartup = true
	t.mu.Unlock()
}

// Start subscribes to the lifecycle source and fires the startup pass. Calling it again
// returns the existing unsubscribe func without subscribing twice.
func (t *ForegroundTrigger) Start(ctx context.Context) func() {
	t.mu.Lock()
	if t.unsub != nil {
		unsub := t.unsub
		t.mu.Unlock()
		return unsub
	}
	t.ctx = ctx
	t.last = models.AppStateActive
	t.mu.Unlock()

	cancel := t.source.Subscribe(t.handle)

	var once sync.Once
	unsub := func() { once.Do(cancel) }

	t.mu.Lock()
	t.unsub = unsub
	skip := t.skipStartup
	t.mu.Unlock()

	if !skip {
		t.fire("startup")
	}
	return unsub
}

// Stop unsubscribes and waits for passes fired by the trigger.
func (t *ForegroundTrigger) Stop() {
	t.mu.Lock()
	unsub := t.unsub
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	t.wg.Wait()
}

func (t *ForegroundTrigger) handle(state models.AppState) {
	t.mu.Lock()
	prev := t.last
	t.last = state
	t.mu.Unlock()

	if state == models.AppStateActive && prev != models.AppStateActive {
		t.fire("foreground")
	}
}

func (t *ForegroundTrigger) fire(reason string) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		res := t.engine.SyncAll(ctx)
		t.logger.Debug().
			Str("reason", reason).
			Bool("success", res.Success).
			Strs("errors", res.Errors).
			Msg("triggered sync pass")
	}()
}
