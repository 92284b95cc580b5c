package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l1jgo/modbus/internal/core/event"
	coresys "github.com/l1jgo/modbus/internal/core/system"
	"github.com/l1jgo/modbus/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTimers() (*TimerSystem, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewTimerSystem(zap.NewNop())
	s.now = clk.now
	return s, clk
}

func TestTimerRunsInDueOrder(t *testing.T) {
	s, clk := newTestTimers()
	var got []string
	s.ScheduleOnce(300*time.Millisecond, func() { got = append(got, "c") })
	s.ScheduleOnce(100*time.Millisecond, func() { got = append(got, "a") })
	s.ScheduleOnce(100*time.Millisecond, func() { got = append(got, "b") })
	s.ScheduleOnce(-time.Second, func() { got = append(got, "now") })

	s.Update(0)
	assert.Equal(t, []string{"now"}, got)

	clk.advance(100 * time.Millisecond)
	s.Update(0)
	assert.Equal(t, []string{"now", "a", "b"}, got)
	assert.Equal(t, 1, s.Pending())

	clk.advance(time.Second)
	s.Update(0)
	assert.Equal(t, []string{"now", "a", "b", "c"}, got)
	assert.Zero(t, s.Pending())
}

func TestTimerScheduledDuringUpdateWaitsForNextTick(t *testing.T) {
	s, _ := newTestTimers()
	runs := 0
	s.ScheduleOnce(0, func() {
		runs++
		s.ScheduleOnce(0, func() { runs++ })
	})

	s.Update(0)
	assert.Equal(t, 1, runs)
	s.Update(0)
	assert.Equal(t, 2, runs)
}

func TestTimerPanicDoesNotStopOthers(t *testing.T) {
	s, _ := newTestTimers()
	ran := false
	s.ScheduleOnce(0, func() { panic("bad timer") })
	s.ScheduleOnce(0, func() { ran = true })

	assert.NotPanics(t, func() { s.Update(0) })
	assert.True(t, ran)
}

func TestTimerDrivesDelayedFire(t *testing.T) {
	s, clk := newTestTimers()
	bus := event.NewBus(zap.NewNop(), event.WithScheduler(s))
	bus.Init()

	var got []any
	require.NoError(t, bus.RegisterListener("OnLater", event.Func(func(a event.Args) error {
		got = a.Values()
		return nil
	})))

	bus.FireEventDelayed("OnLater", 2*time.Second, "x", 1)
	s.Update(0)
	assert.Empty(t, got)

	clk.advance(2 * time.Second)
	s.Update(0)
	assert.Equal(t, []any{"x", 1}, got)
}

func TestCommandSystemDrainsInOrder(t *testing.T) {
	var got []string
	s := NewCommandSystem(func(line string) { got = append(got, line) }, 4, 2, zap.NewNop())

	assert.True(t, s.Submit("events"))
	assert.True(t, s.Submit("mods"))
	assert.True(t, s.Submit("help"))

	s.Update(0)
	assert.Equal(t, []string{"events", "mods"}, got, "bounded per tick")
	s.Update(0)
	assert.Equal(t, []string{"events", "mods", "help"}, got)
}

func TestCommandSystemQueueFull(t *testing.T) {
	s := NewCommandSystem(func(string) {}, 1, 1, zap.NewNop())
	assert.True(t, s.Submit("a"))
	assert.False(t, s.Submit("b"))
}

func TestReloadSystem(t *testing.T) {
	changed := make(chan struct{}, 1)
	reloads := 0
	s := NewReloadSystem(changed, func() { reloads++ })

	s.Update(0)
	assert.Zero(t, reloads)

	changed <- struct{}{}
	s.Update(0)
	s.Update(0)
	assert.Equal(t, 1, reloads)
}

type recordingStore struct {
	batches [][]diag.Entry
	err     error
}

func (r *recordingStore) WriteBatch(_ context.Context, entries []diag.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, entries)
	return nil
}

func TestPersistSystemFlushInterval(t *testing.T) {
	buf := diag.NewBuffer(8)
	store := &recordingStore{}
	s := NewPersistSystem(buf, store, zap.NewNop(), 3)

	buf.Add(diag.Entry{Message: "listener failed", Event: "OnTick"})
	s.Update(0)
	s.Update(0)
	assert.Empty(t, store.batches)

	s.Update(0)
	require.Len(t, store.batches, 1)
	assert.Equal(t, "OnTick", store.batches[0][0].Event)

	// nothing buffered: no empty batch
	s.Update(0)
	s.Update(0)
	s.Update(0)
	assert.Len(t, store.batches, 1)
}

func TestPersistSystemDropsFailedBatch(t *testing.T) {
	buf := diag.NewBuffer(8)
	store := &recordingStore{err: errors.New("db down")}
	s := NewPersistSystem(buf, store, zap.NewNop(), 1)

	buf.Add(diag.Entry{Message: "x"})
	s.Flush()
	assert.Zero(t, buf.Len())
}

func TestRunnerTickOrdersPhases(t *testing.T) {
	timers, _ := newTestTimers()
	bus := event.NewBus(zap.NewNop(), event.WithScheduler(timers))
	bus.Init()

	var got []string
	require.NoError(t, bus.RegisterListener("OnLater", event.Func(func(a event.Args) error {
		s, _ := a.Str(0)
		got = append(got, s)
		return nil
	})))

	// a console command queues a zero-delay fire; the timer phase of the same
	// tick runs it, and the persist phase sees the log it produced
	buf := diag.NewBuffer(8)
	store := &recordingStore{}
	cmds := NewCommandSystem(func(line string) {
		bus.FireEventDelayed("OnLater", 0, line)
		buf.Add(diag.Entry{Message: "fired", Event: "OnLater"})
	}, 4, 4, zap.NewNop())

	r := coresys.NewRunner()
	r.Register(NewPersistSystem(buf, store, zap.NewNop(), 1))
	r.Register(timers)
	r.Register(cmds)
	assert.Equal(t, 3, r.Len())

	cmds.Submit("ping")
	r.Tick(100 * time.Millisecond)

	assert.Equal(t, []string{"ping"}, got)
	require.Len(t, store.batches, 1)
	assert.Equal(t, "fired", store.batches[0][0].Message)
}
