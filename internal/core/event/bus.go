package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/l1jgo/modbus/internal/core/event"

// Bus is the mod event bus: event declarations, listener table and replay
// cache behind one mutex. Dispatch is synchronous on the caller's goroutine.
//
// The mutex is never held while a listener runs, so listeners may fire,
// register or unregister re-entrantly.
type Bus struct {
	mu          sync.Mutex
	initialized bool
	events      map[string]*EventDescriptor
	listeners   map[string][]*listener
	cache       map[string][]Args

	sched  Scheduler
	tracer trace.Tracer
	log    *zap.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithScheduler sets the primitive used by FireEventDelayed.
func WithScheduler(s Scheduler) Option {
	return func(b *Bus) { b.sched = s }
}

// WithTracer overrides the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) { b.tracer = t }
}

// NewBus returns a bus logging to log (nil for none) that schedules delayed
// fires with time.AfterFunc unless WithScheduler says otherwise.
func NewBus(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		sched:  AfterFuncScheduler{},
		tracer: otel.Tracer(tracerName),
		log:    log,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Init allocates the bus tables. It is safe to call repeatedly: only the
// first call has an effect and later calls keep every declaration, listener
// and cached event. Returns true if this call performed the initialization.
func (b *Bus) Init() bool {
	b.mu.Lock()
	first := b.initLocked()
	b.mu.Unlock()
	if first {
		b.log.Info("event bus initialized")
	} else {
		b.log.Debug("event bus already initialized, keeping state")
	}
	return first
}

// Initialized reports whether Init (or any bus operation) has run.
func (b *Bus) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

func (b *Bus) initLocked() bool {
	if b.initialized {
		return false
	}
	b.events = make(map[string]*EventDescriptor)
	b.listeners = make(map[string][]*listener)
	b.cache = make(map[string][]Args)
	b.initialized = true
	return true
}

// FireEvent delivers args to every listener of eventName, most recently
// registered first. With no listeners the args are cached and replayed to
// the first listener that registers.
func (b *Bus) FireEvent(eventName string, args ...any) Report {
	return b.fire(eventName, NewArgs(args...), false)
}

// FireEventDelayed snapshots args now and fires eventName once after delay
// through the scheduler. It never blocks.
func (b *Bus) FireEventDelayed(eventName string, delay time.Duration, args ...any) {
	if delay < 0 {
		delay = 0
	}
	snap := NewArgs(args...)
	b.log.Debug("event scheduled",
		zap.String("event", eventName),
		zap.Duration("delay", delay),
		zap.Stringer("args", snap),
	)
	b.sched.ScheduleOnce(delay, func() {
		b.fire(eventName, snap, false)
	})
}

// fire runs one dispatch. During a replay flush an event with no listeners
// left (a one-shot listener consumed an earlier entry) is dropped instead of
// being cached again.
func (b *Bus) fire(eventName string, args Args, replay bool) Report {
	_, span := b.tracer.Start(context.Background(), "event.fire",
		trace.WithAttributes(
			attribute.String("event.name", eventName),
			attribute.Bool("event.replay", replay),
		),
	)
	defer span.End()

	report := Report{Event: eventName}

	b.mu.Lock()
	b.initLocked()
	live := b.listeners[eventName]
	if len(live) == 0 {
		if replay {
			b.mu.Unlock()
			b.log.Debug("replayed event dropped, no listeners left", zap.String("event", eventName))
			return report
		}
		b.cache[eventName] = append(b.cache[eventName], args)
		pending := len(b.cache[eventName])
		b.mu.Unlock()

		b.log.Debug("event cached, no listeners",
			zap.String("event", eventName),
			zap.Int("pending", pending),
		)
		span.SetAttributes(attribute.Bool("event.cached", true))
		report.Cached = true
		return report
	}
	snapshot := make([]*listener, len(live))
	copy(snapshot, live)
	b.mu.Unlock()

	// Reverse order: the last registered listener runs first.
	for i := len(snapshot) - 1; i >= 0; i-- {
		l := snapshot[i]
		if !b.claim(l) {
			continue
		}
		err := b.invoke(eventName, l, args)
		if l.once {
			b.mu.Lock()
			b.removeLocked(eventName, l)
			b.mu.Unlock()
		}
		if err != nil {
			b.log.Warn("listener failed",
				zap.String("event", eventName),
				zap.String("mod", l.owner),
				zap.Error(err),
			)
		} else {
			b.log.Debug("listener invoked",
				zap.String("event", eventName),
				zap.String("mod", l.owner),
			)
		}
		report.Outcomes = append(report.Outcomes, Outcome{OwnerMod: l.owner, Once: l.once, Err: err})
	}

	failures := report.Failures()
	span.SetAttributes(
		attribute.Int("event.listeners", len(report.Outcomes)),
		attribute.Int("event.failures", failures),
	)
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d listener(s) failed", failures))
	}
	return report
}

// claim reports whether l should run in this dispatch. One-shot listeners
// are claimed exactly once so a re-entrant or concurrent fire skips them.
func (b *Bus) claim(l *listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.removed || l.claimed {
		return false
	}
	if l.once {
		l.claimed = true
	}
	return true
}

// invoke calls the listener, turning returned errors and panics into a
// *ListenerFailure.
func (b *Bus) invoke(eventName string, l *listener, args Args) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			err = &ListenerFailure{Event: eventName, OwnerMod: l.owner, Err: err}
		}
	}()
	return l.cb.Call(args)
}
