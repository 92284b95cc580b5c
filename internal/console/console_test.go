package console

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l1jgo/modbus/internal/core/event"
	"github.com/l1jgo/modbus/internal/diag"
	"github.com/l1jgo/modbus/internal/scripting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHost struct {
	mods  []scripting.ModStatus
	execs []string
	err   error
}

func (h *fakeHost) Mods() []scripting.ModStatus { return h.mods }

func (h *fakeHost) Exec(mod, src string) error {
	h.execs = append(h.execs, mod+"|"+src)
	return h.err
}

type fakeDiag struct{ entries []diag.Entry }

func (d *fakeDiag) Recent(_ context.Context, limit int) ([]diag.Entry, error) {
	if limit < len(d.entries) {
		return d.entries[:limit], nil
	}
	return d.entries, nil
}

type manualScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (m *manualScheduler) ScheduleOnce(d time.Duration, fn func()) {
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, fn)
}

type fixture struct {
	bus   *event.Bus
	host  *fakeHost
	sched *manualScheduler
	out   *bytes.Buffer
	con   *Console
	quit  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{host: &fakeHost{}, sched: &manualScheduler{}, out: &bytes.Buffer{}}
	f.bus = event.NewBus(zap.NewNop(), event.WithScheduler(f.sched))
	f.bus.Init()
	f.con = New(Deps{
		Bus:  f.bus,
		Mods: f.host,
		Quit: func() { f.quit++ },
	}, f.out)
	return f
}

func (f *fixture) run(line string) string {
	f.out.Reset()
	f.con.Execute(line)
	return f.out.String()
}

func TestEventsCommands(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("events"), "no events declared")

	f.bus.RegisterEvent("OnPlayerJoin", "Mod_Core", "a player joined", []string{"id", "name"})
	f.bus.RegisterEvent("OnTick", "Mod_Clock", "", nil)

	out := f.run("events")
	assert.Contains(t, out, "OnPlayerJoin")
	assert.Contains(t, out, "Mod_Core")
	assert.Contains(t, out, "(id, name)")
	assert.Contains(t, out, "OnTick")

	out = f.run("events-by-mod Mod_Clock")
	assert.Contains(t, out, "OnTick")
	assert.NotContains(t, out, "OnPlayerJoin")

	assert.Contains(t, f.run("events-by-mod Nobody"), "no events declared by Nobody")
	assert.Contains(t, f.run("events-by-mod"), "usage")
}

func TestListenersCommand(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("listeners OnTick"), "no listeners for OnTick")

	require.NoError(t, f.bus.RegisterListener("OnTick", event.Func(func(event.Args) error { return nil }), event.WithOwner("Mod_A")))
	require.NoError(t, f.bus.RegisterListener("OnTick", event.Func(func(event.Args) error { return nil }), event.Once()))

	out := f.run("listeners OnTick")
	assert.Regexp(t, `1\s+<unknown mod>\s+once`, out, "newest first")
	assert.Regexp(t, `2\s+Mod_A`, out)
}

func TestFireCommand(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("fire OnLoad 1"), "OnLoad: no listeners, cached (1 pending)")

	var got []any
	require.NoError(t, f.bus.RegisterListener("OnChat", event.Func(func(a event.Args) error {
		got = a.Values()
		return nil
	}), event.WithOwner("Mod_Chat")))
	require.NoError(t, f.bus.RegisterListener("OnChat", event.Func(func(event.Args) error {
		return errors.New("boom")
	}), event.WithOwner("Mod_Bad")))

	out := f.run(`fire OnChat 42 1.5 true nil "hello world" inf`)
	assert.Contains(t, out, "OnChat: 2 listeners, 1 failed")
	assert.Contains(t, out, "Mod_Bad")
	assert.Equal(t, []any{42, 1.5, true, nil, "hello world", "inf"}, got)
}

func TestFireDelayedCommand(t *testing.T) {
	f := newFixture(t)
	fired := 0
	require.NoError(t, f.bus.RegisterListener("OnLater", event.Func(func(event.Args) error {
		fired++
		return nil
	})))

	assert.Contains(t, f.run("fire-delayed OnLater 250 x"), "OnLater: scheduled in 250ms")
	require.Len(t, f.sched.fns, 1)
	assert.Equal(t, 250*time.Millisecond, f.sched.delays[0])
	assert.Zero(t, fired)
	f.sched.fns[0]()
	assert.Equal(t, 1, fired)

	assert.Contains(t, f.run("fire-delayed OnLater -5"), "scheduled in 0ms")
	assert.Equal(t, time.Duration(0), f.sched.delays[1])

	assert.Contains(t, f.run("fire-delayed OnLater soon"), `invalid delay "soon"`)
	assert.Contains(t, f.run("fire-delayed OnLater"), "usage")
}

func TestModsCommand(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("mods"), "no mods loaded")

	f.host.mods = []scripting.ModStatus{
		{Name: "Mod_A", Version: "1.0.0", Scripts: 2, Digest: "abcd1234"},
		{Name: "Mod_B", Version: "0.1.0", Scripts: 1, Digest: "ffff0000", Err: errors.New("syntax error")},
	}
	out := f.run("mods")
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `Mod_A\s+1\.0\.0\s+2\s+abcd1234\s+ok`, out)
	assert.Contains(t, out, "error: syntax error")
}

func TestReloadCommand(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("reload"), "reload not available")

	var result []string
	var err error
	f.con.deps.Reload = func() ([]string, error) { return result, err }

	assert.Contains(t, f.run("reload"), "no mods changed")
	result = []string{"Mod_A", "Mod_B"}
	assert.Contains(t, f.run("reload"), "reloaded: Mod_A, Mod_B")
	err = errors.New("bad manifest")
	assert.Contains(t, f.run("reload"), "reload failed: bad manifest")
}

func TestLuaCommand(t *testing.T) {
	f := newFixture(t)
	f.run(`lua Mod_A 'EventBus.FireEvent("X")' extra`)
	assert.Equal(t, []string{`Mod_A|EventBus.FireEvent("X") extra`}, f.host.execs)

	f.host.err = errors.New("bad code")
	assert.Contains(t, f.run("lua Mod_A oops"), "lua error: bad code")
	assert.Contains(t, f.run("lua Mod_A"), "usage")
}

func TestDiagCommand(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("diag"), "disabled")

	f.con.deps.Diag = &fakeDiag{entries: []diag.Entry{
		{Time: time.Now(), Level: "warn", Event: "OnTick", Mod: "Mod_B", Message: "listener failed"},
		{Time: time.Now(), Level: "info", Event: "OnLoad", Message: "event declared"},
	}}
	out := f.run("diag 1")
	assert.Contains(t, out, "listener failed")
	assert.NotContains(t, out, "event declared")

	assert.Contains(t, f.run("diag zero"), `invalid count "zero"`)
}

func TestMiscCommands(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run("help"), "fire-delayed")
	assert.Contains(t, f.run("frobnicate"), `unknown command "frobnicate"`)
	assert.Contains(t, f.run(`fire "unterminated`), "parse error")
	assert.Empty(t, f.run("   "))

	f.run("quit")
	f.run("EXIT")
	assert.Equal(t, 2, f.quit)
}
