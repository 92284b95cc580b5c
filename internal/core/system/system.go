package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput   Phase = iota // 0: console commands, mod reload requests
	PhaseTimers               // 1: due ScheduleOnce callbacks (delayed events)
	PhasePersist              // 2: diagnostic flush
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "Input"
	case PhaseTimers:
		return "Timers"
	case PhasePersist:
		return "Persist"
	default:
		return "Unknown"
	}
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
