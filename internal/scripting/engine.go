package scripting

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/l1jgo/modbus/internal/core/event"
	"github.com/l1jgo/modbus/internal/data"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Engine wraps a single gopher-lua VM hosting every mod. Mods reach the event
// bus through the EventBus global. Single-goroutine access only (host loop):
// Lua listeners run on whichever goroutine fires the event.
type Engine struct {
	vm  *lua.LState
	bus *event.Bus
	log *zap.Logger

	mods    map[string]*modState
	current string // mod whose code is executing, "" outside mod scripts
}

type modState struct {
	manifest *data.ModManifest
	// listeners registered while the mod's code ran, whatever ownerMod
	// they were tagged with
	listeners []modListener
	digest   [blake2b.Size256]byte
	err      error
}

// ModStatus describes a loaded mod for the console.
type ModStatus struct {
	Name        string
	Version     string
	Description string
	Scripts     int
	Digest      string // short hex digest of manifest + scripts
	Err         error
}

// NewEngine creates a Lua VM with the EventBus API installed.
func NewEngine(bus *event.Bus, log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:   vm,
		bus:  bus,
		log:  log,
		mods: make(map[string]*modState),
	}
	e.registerBusAPI()
	return e
}

// LoadMods initializes the bus (a no-op when already done), declares each
// mod's manifest events and runs its scripts. A failing mod is logged and
// skipped; the rest still load. Returns the number of mods loaded cleanly.
func (e *Engine) LoadMods(table *data.ModTable) int {
	e.bus.Init()
	loaded := 0
	for _, m := range table.All() {
		if err := e.loadMod(m); err == nil {
			loaded++
		}
	}
	return loaded
}

// Reload re-runs mods whose manifest or scripts changed since they were
// loaded, plus new mods and mods that previously failed. Listeners owned by a
// reloaded or removed mod are unregistered first; event declarations are
// kept. Returns the names of the mods that were (re)loaded.
func (e *Engine) Reload(table *data.ModTable) []string {
	var reloaded []string
	seen := make(map[string]bool, table.Count())
	for _, m := range table.All() {
		seen[m.Name] = true
		prev, known := e.mods[m.Name]
		if known && prev.err == nil {
			if digest, err := modDigest(m); err == nil && digest == prev.digest {
				continue
			}
		}
		if known {
			e.unloadListeners(m.Name)
		}
		_ = e.loadMod(m)
		reloaded = append(reloaded, m.Name)
	}
	for name := range e.mods {
		if !seen[name] {
			e.unloadListeners(name)
			delete(e.mods, name)
			e.log.Info("mod removed", zap.String("mod", name))
		}
	}
	sort.Strings(reloaded)
	return reloaded
}

type modListener struct {
	event string
	cb    luaCallback
}

// trackListener records a listener against the mod whose code is running.
func (e *Engine) trackListener(eventName string, cb luaCallback) {
	if st, ok := e.mods[e.current]; ok {
		st.listeners = append(st.listeners, modListener{event: eventName, cb: cb})
	}
}

// unloadListeners removes every listener the mod registered, including ones
// tagged with a different ownerMod, plus any listener tagged with its name.
func (e *Engine) unloadListeners(mod string) {
	if st, ok := e.mods[mod]; ok {
		for _, l := range st.listeners {
			e.bus.UnregisterListener(l.event, l.cb)
		}
		st.listeners = nil
	}
	e.bus.UnregisterMod(mod)
}

// Exec runs a Lua chunk as if it belonged to mod.
func (e *Engine) Exec(mod, src string) error {
	return e.withMod(mod, func() error {
		return e.vm.DoString(src)
	})
}

// Mods returns the status of every known mod in name order.
func (e *Engine) Mods() []ModStatus {
	out := make([]ModStatus, 0, len(e.mods))
	for _, st := range e.mods {
		out = append(out, ModStatus{
			Name:        st.manifest.Name,
			Version:     st.manifest.Version,
			Description: st.manifest.Description,
			Scripts:     len(st.manifest.Scripts),
			Digest:      hex.EncodeToString(st.digest[:4]),
			Err:         st.err,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Global returns a Lua global. Intended for tests and console inspection.
func (e *Engine) Global(name string) lua.LValue {
	return e.vm.GetGlobal(name)
}

func (e *Engine) loadMod(m *data.ModManifest) error {
	st := &modState{manifest: m}
	e.mods[m.Name] = st

	digest, err := modDigest(m)
	if err != nil {
		st.err = err
		e.log.Error("mod digest failed", zap.String("mod", m.Name), zap.Error(err))
		return err
	}
	st.digest = digest

	e.declareEvents(m)

	for _, path := range m.ScriptPaths() {
		err := e.withMod(m.Name, func() error {
			return e.vm.DoFile(path)
		})
		if err != nil {
			st.err = fmt.Errorf("load %s: %w", path, err)
			e.log.Error("mod script failed",
				zap.String("mod", m.Name),
				zap.String("file", path),
				zap.Error(err),
			)
			return st.err
		}
		e.log.Debug("loaded lua script", zap.String("mod", m.Name), zap.String("file", path))
	}

	e.log.Info("mod loaded",
		zap.String("mod", m.Name),
		zap.String("version", m.Version),
		zap.Int("scripts", len(m.Scripts)),
		zap.Int("events", len(m.Events)),
	)
	return nil
}

// declareEvents registers manifest events the mod has not declared yet, so a
// reload does not duplicate declarations.
func (e *Engine) declareEvents(m *data.ModManifest) {
	for _, ev := range m.Events {
		if e.declaredBy(ev.Name, m.Name) {
			continue
		}
		e.bus.RegisterEvent(ev.Name, m.Name, ev.Description, ev.Params)
	}
}

func (e *Engine) declaredBy(eventName, mod string) bool {
	desc, ok := e.bus.Event(eventName)
	if !ok {
		return false
	}
	for _, d := range desc.Declarations {
		if d.OwnerMod == mod {
			return true
		}
	}
	return false
}

// withMod runs fn with MOD_NAME set to mod, restoring the previous value.
func (e *Engine) withMod(mod string, fn func() error) error {
	prev := e.current
	e.setCurrent(mod)
	defer e.setCurrent(prev)
	return fn()
}

func (e *Engine) setCurrent(mod string) {
	e.current = mod
	if mod == "" {
		e.vm.SetGlobal("MOD_NAME", lua.LNil)
		return
	}
	e.vm.SetGlobal("MOD_NAME", lua.LString(mod))
}

// modDigest hashes the manifest and every script of m.
func modDigest(m *data.ModManifest) ([blake2b.Size256]byte, error) {
	var sum [blake2b.Size256]byte
	h, err := blake2b.New256(nil)
	if err != nil {
		return sum, err
	}
	files := append([]string{filepath.Join(m.Dir, data.ManifestFile)}, m.ScriptPaths()...)
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return sum, fmt.Errorf("digest %s: %w", path, err)
		}
		h.Write(raw)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
