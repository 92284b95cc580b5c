package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegisterEventKeepsEveryDeclaration(t *testing.T) {
	b := newTestBus()
	b.RegisterEvent("OnZombieKilled", "Hordes", "a zombie died", []string{"zombie", "killer"})
	b.RegisterEvent("OnZombieKilled", "Stats", "", nil)
	b.RegisterEvent("OnZombieKilled", "Hordes", "duplicate on purpose", nil)

	desc, ok := b.Event("OnZombieKilled")
	require.True(t, ok)
	require.Len(t, desc.Declarations, 3)
	assert.Equal(t, "Hordes", desc.Declarations[0].OwnerMod)
	assert.Equal(t, []string{"zombie", "killer"}, desc.Declarations[0].Params)
	assert.Equal(t, "Stats", desc.Declarations[1].OwnerMod)
	assert.Equal(t, "duplicate on purpose", desc.Declarations[2].Description)

	_, ok = b.Event("Unknown")
	assert.False(t, ok)
}

func TestEventQueriesReturnCopies(t *testing.T) {
	b := newTestBus()
	params := []string{"x"}
	b.RegisterEvent("E", "Mod", "", params)
	params[0] = "changed"

	desc, _ := b.Event("E")
	assert.Equal(t, []string{"x"}, desc.Declarations[0].Params)

	desc.Declarations[0].Params[0] = "mutated"
	again, _ := b.Event("E")
	assert.Equal(t, []string{"x"}, again.Declarations[0].Params)
}

func TestEventsSortedAndByMod(t *testing.T) {
	b := newTestBus()
	b.RegisterEvent("Zeta", "A", "", nil)
	b.RegisterEvent("Alpha", "B", "", nil)
	b.RegisterEvent("Alpha", "A", "from A", nil)

	all := b.Events()
	require.Len(t, all, 2)
	assert.Equal(t, "Alpha", all[0].Name)
	assert.Equal(t, "Zeta", all[1].Name)

	mine := b.EventsByMod("A")
	require.Len(t, mine, 2)
	assert.Equal(t, "Alpha", mine[0].Name)
	require.Len(t, mine[0].Declarations, 1)
	assert.Equal(t, "from A", mine[0].Declarations[0].Description)

	assert.Empty(t, b.EventsByMod("Nobody"))
}

func TestDebugReportsLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b := NewBus(zap.New(core))
	b.Init()
	b.RegisterEvent("E", "Mod", "desc", []string{"a", "b"})
	require.NoError(t, b.RegisterListener("E", Func(func(Args) error { return nil }), WithOwner("Mod"), Once()))

	b.DebugListEvents()
	b.DebugListEventsByMod("Mod")
	b.DebugListListeners("E")

	events := logs.FilterMessage("  event").All()
	require.Len(t, events, 2)
	assert.Equal(t, "a, b", events[0].ContextMap()["params"])

	listeners := logs.FilterMessage("  listener").All()
	require.Len(t, listeners, 1)
	assert.Equal(t, "Mod", listeners[0].ContextMap()["mod"])
	assert.Equal(t, true, listeners[0].ContextMap()["once"])
}

func TestArgsAccessors(t *testing.T) {
	a := NewArgs(3, int64(4), 5.9, "s", nil)
	assert.Equal(t, 5, a.Len())

	n, ok := a.Int(0)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	n, _ = a.Int(1)
	assert.Equal(t, 4, n)
	n, _ = a.Int(2)
	assert.Equal(t, 5, n)
	_, ok = a.Int(3)
	assert.False(t, ok)

	s, ok := a.Str(3)
	assert.True(t, ok)
	assert.Equal(t, "s", s)

	assert.Nil(t, a.At(-1))
	assert.Nil(t, a.At(99))
	assert.Equal(t, "(3, 4, 5.9, s, <nil>)", a.String())
	assert.Equal(t, 0, NewArgs().Len())
}
