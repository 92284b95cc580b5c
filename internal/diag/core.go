package diag

import (
	"encoding/json"

	"go.uber.org/zap/zapcore"
)

// Core is a zapcore.Core that records entries into a Buffer. Tee it with the
// console core so everything the bus logs at or above the level is kept.
type Core struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
}

func NewCore(buf *Buffer, level zapcore.LevelEnabler) *Core {
	return &Core{LevelEnabler: level, buf: buf}
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	return &Core{LevelEnabler: c.LevelEnabler, buf: c.buf, fields: all}
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	e := Entry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Message: ent.Message,
	}
	if v, ok := enc.Fields["event"].(string); ok {
		e.Event = v
		delete(enc.Fields, "event")
	}
	if v, ok := enc.Fields["mod"].(string); ok {
		e.Mod = v
		delete(enc.Fields, "mod")
	}
	if len(enc.Fields) > 0 {
		raw, err := json.Marshal(enc.Fields)
		if err != nil {
			return err
		}
		e.Fields = string(raw)
	}
	c.buf.Add(e)
	return nil
}

func (c *Core) Sync() error { return nil }
