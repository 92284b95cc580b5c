package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/modbus/internal/core/system"
	"github.com/l1jgo/modbus/internal/diag"
	"go.uber.org/zap"
)

// DiagnosticWriter persists a batch of diagnostics.
type DiagnosticWriter interface {
	WriteBatch(ctx context.Context, entries []diag.Entry) error
}

// PersistSystem periodically flushes captured bus diagnostics to storage.
// Phase 2 (Persist).
type PersistSystem struct {
	buf       *diag.Buffer
	store     DiagnosticWriter
	log       *zap.Logger
	tickCount int
	interval  int // flush every N ticks
}

func NewPersistSystem(buf *diag.Buffer, store DiagnosticWriter, log *zap.Logger, intervalTicks int) *PersistSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &PersistSystem{
		buf:      buf,
		store:    store,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Flush()
}

// Flush writes everything buffered so far. Called on shutdown as well.
// A failed batch is dropped rather than retried so a dead database cannot
// grow memory without bound.
func (s *PersistSystem) Flush() {
	entries := s.buf.Drain()
	if len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.WriteBatch(ctx, entries); err != nil {
		s.log.Error("diagnostic flush failed", zap.Int("dropped", len(entries)), zap.Error(err))
		return
	}
	if dropped := s.buf.TakeDropped(); dropped > 0 {
		s.log.Warn("diagnostic buffer overflowed", zap.Int("dropped", dropped))
	}
}
