package event

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

type listener struct {
	cb      Callback
	owner   string
	once    bool
	claimed bool // one-shot taken by a dispatch
	removed bool
}

// ListenerInfo describes a registered listener for diagnostics.
type ListenerInfo struct {
	OwnerMod string
	Once     bool
}

type listenerConfig struct {
	owner string
	once  bool
}

// ListenerOption configures RegisterListener.
type ListenerOption func(*listenerConfig)

// WithOwner tags the listener with the mod that registered it. Used for
// diagnostics and UnregisterMod.
func WithOwner(mod string) ListenerOption {
	return func(c *listenerConfig) { c.owner = mod }
}

// Once removes the listener after its first invocation.
func Once() ListenerOption {
	return func(c *listenerConfig) { c.once = true }
}

// RegisterListener adds cb to eventName's listeners. Registering a callback
// that is already present is a no-op and leaves the existing record as is.
//
// If events were cached for eventName while it had no listeners, they are
// dispatched before RegisterListener returns, oldest first, and the cache is
// cleared.
func (b *Bus) RegisterListener(eventName string, cb Callback, opts ...ListenerOption) error {
	if err := validateCallback(cb); err != nil {
		b.log.Warn("listener rejected", zap.String("event", eventName), zap.Error(err))
		return fmt.Errorf("register listener for %s: %w", eventName, err)
	}
	var cfg listenerConfig
	for _, o := range opts {
		o(&cfg)
	}

	b.mu.Lock()
	b.initLocked()
	for _, l := range b.listeners[eventName] {
		if l.cb == cb {
			b.mu.Unlock()
			b.log.Debug("listener already registered",
				zap.String("event", eventName),
				zap.String("mod", l.owner),
			)
			return nil
		}
	}
	b.listeners[eventName] = append(b.listeners[eventName], &listener{
		cb:    cb,
		owner: cfg.owner,
		once:  cfg.once,
	})
	pending := b.takeCacheLocked(eventName)
	b.mu.Unlock()

	b.log.Debug("listener registered",
		zap.String("event", eventName),
		zap.String("mod", cfg.owner),
		zap.Bool("once", cfg.once),
	)
	b.replay(eventName, pending)
	return nil
}

// UnregisterListener removes cb from eventName. Unknown events and callbacks
// are ignored. Removing the last listener returns the event to the
// no-listener state, so later fires are cached again.
func (b *Bus) UnregisterListener(eventName string, cb Callback) {
	if validateCallback(cb) != nil {
		return
	}
	b.mu.Lock()
	n := b.removeMatchingLocked(eventName, func(l *listener) bool { return l.cb == cb })
	b.mu.Unlock()
	if n > 0 {
		b.log.Debug("listener unregistered", zap.String("event", eventName))
	}
}

// UnregisterMod removes every listener owned by mod across all events and
// returns how many were removed.
func (b *Bus) UnregisterMod(mod string) int {
	b.mu.Lock()
	total := 0
	for name := range b.listeners {
		total += b.removeMatchingLocked(name, func(l *listener) bool { return l.owner == mod })
	}
	b.mu.Unlock()
	if total > 0 {
		b.log.Info("mod listeners unregistered", zap.String("mod", mod), zap.Int("count", total))
	}
	return total
}

// ListenerCount returns the number of listeners for eventName.
func (b *Bus) ListenerCount(eventName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[eventName])
}

// ListenersOf returns eventName's listeners in dispatch order.
func (b *Bus) ListenersOf(eventName string) []ListenerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.listeners[eventName]
	out := make([]ListenerInfo, 0, len(live))
	for i := len(live) - 1; i >= 0; i-- {
		out = append(out, ListenerInfo{OwnerMod: live[i].owner, Once: live[i].once})
	}
	return out
}

func (b *Bus) removeLocked(eventName string, target *listener) {
	b.removeMatchingLocked(eventName, func(l *listener) bool { return l == target })
}

func (b *Bus) removeMatchingLocked(eventName string, match func(*listener) bool) int {
	live, ok := b.listeners[eventName]
	if !ok {
		return 0
	}
	removed := 0
	live = slices.DeleteFunc(live, func(l *listener) bool {
		if match(l) {
			l.removed = true
			removed++
			return true
		}
		return false
	})
	if len(live) == 0 {
		delete(b.listeners, eventName)
	} else {
		b.listeners[eventName] = live
	}
	return removed
}
