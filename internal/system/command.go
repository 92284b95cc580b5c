package system

import (
	"time"

	coresys "github.com/l1jgo/modbus/internal/core/system"
	"go.uber.org/zap"
)

// CommandSystem drains console lines queued by the console reader goroutine
// and executes them on the loop goroutine. Phase 0 (Input).
type CommandSystem struct {
	queue      chan string
	exec       func(line string)
	maxPerTick int
	log        *zap.Logger
}

func NewCommandSystem(exec func(line string), queueSize, maxPerTick int, log *zap.Logger) *CommandSystem {
	return &CommandSystem{
		queue:      make(chan string, queueSize),
		exec:       exec,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *CommandSystem) Phase() coresys.Phase { return coresys.PhaseInput }

// Submit queues a line without blocking. Returns false when the queue is full.
func (s *CommandSystem) Submit(line string) bool {
	select {
	case s.queue <- line:
		return true
	default:
		s.log.Warn("console queue full, command dropped", zap.String("line", line))
		return false
	}
}

func (s *CommandSystem) Update(_ time.Duration) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case line := <-s.queue:
			s.exec(line)
		default:
			return
		}
	}
}
