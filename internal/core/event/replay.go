package event

import "go.uber.org/zap"

// CachedCount returns how many fires of eventName are waiting for a first
// listener.
func (b *Bus) CachedCount(eventName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache[eventName])
}

// takeCacheLocked removes and returns every cached fire of eventName.
func (b *Bus) takeCacheLocked(eventName string) []Args {
	pending, ok := b.cache[eventName]
	if !ok {
		return nil
	}
	delete(b.cache, eventName)
	return pending
}

func (b *Bus) replay(eventName string, pending []Args) {
	if len(pending) == 0 {
		return
	}
	b.log.Info("replaying cached events",
		zap.String("event", eventName),
		zap.Int("count", len(pending)),
	)
	for _, args := range pending {
		b.fire(eventName, args, true)
	}
}
