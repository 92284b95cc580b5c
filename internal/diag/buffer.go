// Package diag captures bus diagnostics emitted through zap so they can be
// persisted in batches by the host loop.
package diag

import (
	"sync"
	"time"
)

// Entry is one captured log record. Event and Mod are lifted out of the
// structured fields because they are the columns diagnostics are queried by.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Event   string
	Mod     string
	Fields  string // remaining fields as a JSON object, empty when none
}

// Buffer is a bounded FIFO of entries. When full, the oldest entry is
// discarded and counted.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	dropped int
}

func NewBuffer(max int) *Buffer {
	if max < 1 {
		max = 1
	}
	return &Buffer{max: max}
}

func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.max {
		b.entries = b.entries[1:]
		b.dropped++
	}
	b.entries = append(b.entries, e)
}

// Drain returns all buffered entries in arrival order and empties the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// TakeDropped returns the overflow count since the last call and resets it.
func (b *Buffer) TakeDropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.dropped
	b.dropped = 0
	return n
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
