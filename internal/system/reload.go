package system

import (
	"time"

	coresys "github.com/l1jgo/modbus/internal/core/system"
)

// ReloadSystem runs a mod reload on the loop goroutine whenever the mod
// watcher signals a change. Phase 0 (Input).
type ReloadSystem struct {
	changed <-chan struct{}
	reload  func()
}

func NewReloadSystem(changed <-chan struct{}, reload func()) *ReloadSystem {
	return &ReloadSystem{changed: changed, reload: reload}
}

func (s *ReloadSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *ReloadSystem) Update(_ time.Duration) {
	select {
	case <-s.changed:
		s.reload()
	default:
	}
}
