// Package mvi runs intent-driven screen state machines.
//
// A Runtime owns one loop goroutine. Intent handlers, state writes, effect emission and
// the continuations of asynchronous work all execute on that goroutine, so machine code
// never needs its own locking. Repository calls run on separate goroutines started with
// Launch or Subscribe and hand their results back to the loop.
package mvi

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 64
	defaultEffectBuffer = 16

	EffectOutcomeDelivered  = "delivered"
	EffectOutcomeUnobserved = "dropped_unobserved"
	EffectOutcomeOverflow   = "dropped_overflow"
)

var (
	// ErrClosed is returned when work is posted to a runtime that has been closed.
	ErrClosed = errors.New("mvi: runtime closed")
	// ErrUnhandledIntent marks an intent variant that a machine has no handler for.
	ErrUnhandledIntent = errors.New("mvi: unhandled intent")
)

// Config describes a Runtime.
type Config[S any] struct {
	// Name identifies the screen in logs and metrics.
	Name         string
	Initial      S
	Logger       *zap.Logger
	QueueSize    int
	EffectBuffer int
}

// Runtime is the single-writer loop behind a screen state machine.
type Runtime[S any, E any] struct {
	name   string
	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	actions   chan func()
	done      chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once

	subscriptions map[string]context.CancelFunc

	// lastWrite and pendingWrites are only touched on the loop.
	lastWrite     chan struct{}
	pendingWrites int

	stateMu     sync.RWMutex
	state       S
	watchers    map[int64]chan S
	nextWatcher int64

	effectMu     sync.Mutex
	observer     *effectObserver[E]
	nextObserver int64
	effectBuffer int
}

type effectObserver[E any] struct {
	id     int64
	stream chan E
}

// NewRuntime starts the loop goroutine. Close must be called to release it.
func NewRuntime[S any, E any](cfg Config[S]) *Runtime[S, E] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	effectBuffer := cfg.EffectBuffer
	if effectBuffer <= 0 {
		effectBuffer = defaultEffectBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime[S, E]{
		name:          cfg.Name,
		logger:        logger.With(zap.String("screen", cfg.Name)),
		ctx:           ctx,
		cancel:        cancel,
		actions:       make(chan func(), queueSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]context.CancelFunc),
		state:         cfg.Initial,
		watchers:      make(map[int64]chan S),
		effectBuffer:  effectBuffer,
	}
	go r.run()
	return r
}

func (r *Runtime[S, E]) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case action := <-r.actions:
			action()
		}
	}
}

// Logger returns the screen-scoped logger.
func (r *Runtime[S, E]) Logger() *zap.Logger {
	return r.logger
}

// Post queues action for the loop. Actions run in the order they were posted.
// Code already running on the loop must call handlers directly instead of posting.
func (r *Runtime[S, E]) Post(action func()) error {
	select {
	case <-r.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case <-r.ctx.Done():
		return ErrClosed
	case r.actions <- action:
		// The loop stops draining the queue once closed.
		if r.ctx.Err() != nil {
			return ErrClosed
		}
		return nil
	}
}

// Deliver posts action but skips it if ctx has been cancelled by the time it runs.
// Subscriptions use it so values from a replaced subscription never reach the state.
func (r *Runtime[S, E]) Deliver(ctx context.Context, action func()) error {
	return r.Post(func() {
		if ctx.Err() != nil {
			return
		}
		action()
	})
}

// Launch runs work off the loop and posts the continuation it returns back onto it.
// A nil continuation is ignored. Must be called from the loop.
func (r *Runtime[S, E]) Launch(work func(ctx context.Context) func()) {
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		continuation := work(r.ctx)
		if continuation == nil {
			return
		}
		if err := r.Post(continuation); err != nil {
			r.logger.Debug("continuation dropped", zap.Error(err))
		}
	}()
}

// LaunchWrite is Launch for repository writes. Each write starts only after the one
// launched before it has returned, so writes are applied in launch order. Must be called
// from the loop.
func (r *Runtime[S, E]) LaunchWrite(work func(ctx context.Context) func()) {
	previous := r.lastWrite
	finished := make(chan struct{})
	r.lastWrite = finished
	r.pendingWrites++

	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		defer close(finished)
		if previous != nil {
			select {
			case <-previous:
			case <-r.ctx.Done():
				return
			}
		}
		continuation := work(r.ctx)
		err := r.Post(func() {
			r.pendingWrites--
			if continuation != nil {
				continuation()
			}
		})
		if err != nil {
			r.logger.Debug("write continuation dropped", zap.Error(err))
		}
	}()
}

// PendingWrites reports how many launched writes have not had their continuation run
// yet. Must be called from the loop.
func (r *Runtime[S, E]) PendingWrites() int {
	return r.pendingWrites
}

// Subscribe starts a long-lived subscription under key, cancelling any previous one
// with the same key. Must be called from the loop.
func (r *Runtime[S, E]) Subscribe(key string, subscription func(ctx context.Context)) {
	r.Unsubscribe(key)
	ctx, cancel := context.WithCancel(r.ctx)
	r.subscriptions[key] = cancel
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		subscription(ctx)
	}()
}

// Unsubscribe cancels the subscription registered under key, if any. Must be called
// from the loop.
func (r *Runtime[S, E]) Unsubscribe(key string) {
	if cancel, ok := r.subscriptions[key]; ok {
		cancel()
		delete(r.subscriptions, key)
	}
}

// State returns the current view state.
func (r *Runtime[S, E]) State() S {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// SetState replaces the view state and notifies watchers. Must be called from the loop.
func (r *Runtime[S, E]) SetState(state S) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = state
	for _, watcher := range r.watchers {
		offerLatest(watcher, state)
	}
}

// WatchState streams view states, starting with the current one. Only the latest
// unread state is kept; the channel closes when ctx or the runtime ends.
func (r *Runtime[S, E]) WatchState(ctx context.Context) <-chan S {
	stream := make(chan S, 1)

	r.stateMu.Lock()
	r.nextWatcher++
	watcherID := r.nextWatcher
	r.watchers[watcherID] = stream
	offerLatest(stream, r.state)
	r.stateMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-r.ctx.Done():
		}
		r.stateMu.Lock()
		delete(r.watchers, watcherID)
		close(stream)
		r.stateMu.Unlock()
	}()
	return stream
}

// AttachEffects makes the caller the single effect observer until ctx ends. Attaching
// a new observer detaches and closes the previous one.
func (r *Runtime[S, E]) AttachEffects(ctx context.Context) <-chan E {
	stream := make(chan E, r.effectBuffer)

	r.effectMu.Lock()
	r.nextObserver++
	observerID := r.nextObserver
	if r.observer != nil {
		close(r.observer.stream)
	}
	r.observer = &effectObserver[E]{id: observerID, stream: stream}
	r.effectMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-r.ctx.Done():
		}
		r.effectMu.Lock()
		if r.observer != nil && r.observer.id == observerID {
			close(stream)
			r.observer = nil
		}
		r.effectMu.Unlock()
	}()
	return stream
}

// Emit hands effect to the attached observer at most once. With no observer attached,
// or with the observer's buffer full, the effect is dropped.
func (r *Runtime[S, E]) Emit(effect E) {
	r.effectMu.Lock()
	defer r.effectMu.Unlock()

	if r.observer == nil {
		metrics.TrackEffect(r.name, EffectOutcomeUnobserved)
		r.logger.Debug("effect dropped without observer", zap.String("effect", Name(effect)))
		return
	}
	select {
	case r.observer.stream <- effect:
		metrics.TrackEffect(r.name, EffectOutcomeDelivered)
	default:
		metrics.TrackEffect(r.name, EffectOutcomeOverflow)
		r.logger.Warn("effect dropped, observer buffer full", zap.String("effect", Name(effect)))
	}
}

// Close cancels every in-flight operation and subscription and waits for them to end.
func (r *Runtime[S, E]) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		r.workers.Wait()
	})
}

// Name returns the type name of an intent, state or effect value for logs and metrics.
func Name(value any) string {
	valueType := reflect.TypeOf(value)
	if valueType == nil {
		return "nil"
	}
	for valueType.Kind() == reflect.Pointer {
		valueType = valueType.Elem()
	}
	return valueType.Name()
}

func offerLatest[S any](stream chan S, value S) {
	for {
		select {
		case stream <- value:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}
