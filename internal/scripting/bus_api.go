package scripting

import (
	"fmt"
	"time"

	"github.com/l1jgo/modbus/internal/core/event"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// luaCallback adapts a Lua function to event.Callback. Two luaCallbacks are
// equal when they wrap the same function, which is what de-duplicates a mod
// registering the same function twice.
type luaCallback struct {
	e  *Engine
	fn *lua.LFunction
}

func (c luaCallback) Call(args event.Args) error {
	L := c.e.vm
	vals := make([]lua.LValue, args.Len())
	for i := range vals {
		vals[i] = toLua(L, args.At(i))
	}
	return L.CallByParam(lua.P{
		Fn:      c.fn,
		NRet:    0,
		Protect: true,
	}, vals...)
}

// registerBusAPI installs the EventBus global table.
func (e *Engine) registerBusAPI() {
	L := e.vm
	mod := L.NewTable()
	L.SetField(mod, "Init", L.NewFunction(e.luaInit))
	L.SetField(mod, "RegisterEvent", L.NewFunction(e.luaRegisterEvent))
	L.SetField(mod, "RegisterListener", L.NewFunction(e.luaRegisterListener))
	L.SetField(mod, "UnregisterListener", L.NewFunction(e.luaUnregisterListener))
	L.SetField(mod, "FireEvent", L.NewFunction(e.luaFireEvent))
	L.SetField(mod, "FireEventDelayed", L.NewFunction(e.luaFireEventDelayed))
	L.SetField(mod, "Log", L.NewFunction(e.luaLog))
	L.SetField(mod, "ListEvents", L.NewFunction(e.luaListEvents))
	L.SetField(mod, "ListListeners", L.NewFunction(e.luaListListeners))
	L.SetField(mod, "ListEventsByMod", L.NewFunction(e.luaListEventsByMod))
	L.SetGlobal("EventBus", mod)
}

// Init() -> bool
func (e *Engine) luaInit(L *lua.LState) int {
	L.Push(lua.LBool(e.bus.Init()))
	return 1
}

// RegisterEvent(eventName, modName, description?, params?)
func (e *Engine) luaRegisterEvent(L *lua.LState) int {
	name := L.CheckString(1)
	modName := L.CheckString(2)
	desc := L.OptString(3, "")
	params := stringList(L.OptTable(4, nil))
	e.bus.RegisterEvent(name, modName, desc, params)
	return 0
}

// RegisterListener(eventName, callback, {ownerMod=, once=}?)
// Raises an error when callback is not a function.
func (e *Engine) luaRegisterListener(L *lua.LState) int {
	name := L.CheckString(1)
	fn, ok := L.Get(2).(*lua.LFunction)
	if !ok {
		err := fmt.Errorf("register listener for %s: %w: callback must be a function, got %s",
			name, event.ErrInvalidArgument, L.Get(2).Type())
		e.log.Warn("listener rejected", zap.String("mod", e.current), zap.Error(err))
		L.RaiseError("%s", err.Error())
		return 0
	}

	owner := e.current
	var opts []event.ListenerOption
	if t, ok := L.Get(3).(*lua.LTable); ok {
		if v := t.RawGetString("ownerMod"); v != lua.LNil {
			owner = lua.LVAsString(v)
		}
		if lua.LVAsBool(t.RawGetString("once")) {
			opts = append(opts, event.Once())
		}
	}
	opts = append(opts, event.WithOwner(owner))

	cb := luaCallback{e: e, fn: fn}
	if err := e.bus.RegisterListener(name, cb, opts...); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	e.trackListener(name, cb)
	return 0
}

// UnregisterListener(eventName, callback)
func (e *Engine) luaUnregisterListener(L *lua.LState) int {
	name := L.CheckString(1)
	if fn, ok := L.Get(2).(*lua.LFunction); ok {
		e.bus.UnregisterListener(name, luaCallback{e: e, fn: fn})
	}
	return 0
}

// FireEvent(eventName, ...)
func (e *Engine) luaFireEvent(L *lua.LState) int {
	name := L.CheckString(1)
	e.bus.FireEvent(name, luaArgs(L, 2)...)
	return 0
}

// FireEventDelayed(eventName, delayMs, ...)
func (e *Engine) luaFireEventDelayed(L *lua.LState) int {
	name := L.CheckString(1)
	ms := float64(L.CheckNumber(2))
	delay := time.Duration(ms * float64(time.Millisecond))
	e.bus.FireEventDelayed(name, delay, luaArgs(L, 3)...)
	return 0
}

// Log(message)
func (e *Engine) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	e.log.Info("mod log", zap.String("mod", e.current), zap.String("message", msg))
	return 0
}

// ListEvents() -> {name, ...}
func (e *Engine) luaListEvents(L *lua.LState) int {
	e.bus.DebugListEvents()
	t := L.NewTable()
	for _, desc := range e.bus.Events() {
		t.Append(lua.LString(desc.Name))
	}
	L.Push(t)
	return 1
}

// ListListeners(eventName) -> {{ownerMod=, once=}, ...} in dispatch order
func (e *Engine) luaListListeners(L *lua.LState) int {
	name := L.CheckString(1)
	e.bus.DebugListListeners(name)
	t := L.NewTable()
	for _, li := range e.bus.ListenersOf(name) {
		row := L.NewTable()
		row.RawSetString("ownerMod", lua.LString(li.OwnerMod))
		row.RawSetString("once", lua.LBool(li.Once))
		t.Append(row)
	}
	L.Push(t)
	return 1
}

// ListEventsByMod(modName) -> {name, ...}
func (e *Engine) luaListEventsByMod(L *lua.LState) int {
	modName := L.CheckString(1)
	e.bus.DebugListEventsByMod(modName)
	t := L.NewTable()
	for _, desc := range e.bus.EventsByMod(modName) {
		t.Append(lua.LString(desc.Name))
	}
	L.Push(t)
	return 1
}

// luaArgs converts the stack values from index start to the top.
func luaArgs(L *lua.LState, start int) []any {
	top := L.GetTop()
	if top < start {
		return nil
	}
	args := make([]any, 0, top-start+1)
	for i := start; i <= top; i++ {
		args = append(args, toGo(L.Get(i)))
	}
	return args
}
