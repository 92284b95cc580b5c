package event

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned by RegisterListener when the callback cannot
// be used as a listener. It is the only error the bus hands back to callers.
var ErrInvalidArgument = errors.New("invalid argument")

// ListenerFailure records a listener that returned an error or panicked
// during dispatch. It is logged and reported, never propagated.
type ListenerFailure struct {
	Event    string
	OwnerMod string
	Err      error
}

func (f *ListenerFailure) Error() string {
	owner := f.OwnerMod
	if owner == "" {
		owner = "<unknown mod>"
	}
	return fmt.Sprintf("listener of %s for event %s: %v", owner, f.Event, f.Err)
}

func (f *ListenerFailure) Unwrap() error {
	return f.Err
}

// Outcome is the result of invoking one listener.
type Outcome struct {
	OwnerMod string
	Once     bool
	Err      error // *ListenerFailure or nil
}

// OK reports whether the listener completed without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report summarises a single FireEvent call.
type Report struct {
	Event    string
	Cached   bool
	Outcomes []Outcome
}

// Failures returns the number of listeners that failed.
func (r Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
