package event

import (
	"fmt"
	"strings"
)

// Args is an immutable snapshot of the values passed to FireEvent.
// The backing slice is owned by the snapshot; callers never see it directly.
type Args struct {
	values []any
}

// NewArgs copies values into a new snapshot.
func NewArgs(values ...any) Args {
	if len(values) == 0 {
		return Args{}
	}
	cp := make([]any, len(values))
	copy(cp, values)
	return Args{values: cp}
}

// Len returns the number of values.
func (a Args) Len() int {
	return len(a.values)
}

// At returns the i-th value, or nil when i is out of range.
func (a Args) At(i int) any {
	if i < 0 || i >= len(a.values) {
		return nil
	}
	return a.values[i]
}

// Values returns a copy of all values in fire order.
func (a Args) Values() []any {
	cp := make([]any, len(a.values))
	copy(cp, a.values)
	return cp
}

// Int returns the i-th value as an int. Lua numbers arrive as float64 and are
// truncated.
func (a Args) Int(i int) (int, bool) {
	switch v := a.At(i).(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Str returns the i-th value if it is a string.
func (a Args) Str(i int) (string, bool) {
	s, ok := a.At(i).(string)
	return s, ok
}

func (a Args) String() string {
	parts := make([]string, len(a.values))
	for i, v := range a.values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
