package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBufferDropsOldest(t *testing.T) {
	b := NewBuffer(2)
	b.Add(Entry{Message: "a"})
	b.Add(Entry{Message: "b"})
	b.Add(Entry{Message: "c"})

	assert.Equal(t, 2, b.Len())
	got := b.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)

	assert.Equal(t, 1, b.TakeDropped())
	assert.Equal(t, 0, b.TakeDropped())
	assert.Empty(t, b.Drain())
}

func TestCoreCapturesEventAndMod(t *testing.T) {
	buf := NewBuffer(16)
	log := zap.New(NewCore(buf, zapcore.WarnLevel)).With(zap.String("component", "bus"))

	log.Info("listener invoked", zap.String("event", "OnTick"))
	log.Warn("listener failed",
		zap.String("event", "OnTick"),
		zap.String("mod", "Mod_Broken"),
		zap.Error(errors.New("boom")),
	)

	entries := buf.Drain()
	require.Len(t, entries, 1, "info is below the capture level")
	e := entries[0]
	assert.Equal(t, "warn", e.Level)
	assert.Equal(t, "listener failed", e.Message)
	assert.Equal(t, "OnTick", e.Event)
	assert.Equal(t, "Mod_Broken", e.Mod)
	assert.JSONEq(t, `{"component":"bus","error":"boom"}`, e.Fields)
	assert.False(t, e.Time.IsZero())
}

func TestCoreEmptyFields(t *testing.T) {
	buf := NewBuffer(4)
	log := zap.New(NewCore(buf, zapcore.DebugLevel))
	log.Debug("event declared", zap.String("event", "OnLoad"))

	entries := buf.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "OnLoad", entries[0].Event)
	assert.Empty(t, entries[0].Mod)
	assert.Empty(t, entries[0].Fields)
}
