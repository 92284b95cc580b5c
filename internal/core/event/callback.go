package event

import (
	"fmt"
	"reflect"
)

// Callback is a listener attached to a named event.
//
// Listener identity is the Callback value itself: two registrations refer to
// the same listener when their Callback values compare equal. Implementations
// must therefore be comparable (pointer types, or structs of pointers).
type Callback interface {
	Call(args Args) error
}

// Func wraps a Go function as a Callback. Every call returns a distinct
// handle; keep it around to unregister the listener later.
func Func(fn func(Args) error) Callback {
	if fn == nil {
		return nil
	}
	return &funcCallback{fn: fn}
}

type funcCallback struct {
	fn func(Args) error
}

func (f *funcCallback) Call(args Args) error {
	return f.fn(args)
}

func validateCallback(cb Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: callback is nil", ErrInvalidArgument)
	}
	v := reflect.ValueOf(cb)
	// Value.Comparable also inspects interface fields, which may hold
	// uncomparable dynamic values even when the static type is comparable.
	if !v.Comparable() {
		return fmt.Errorf("%w: callback value of type %s is not comparable", ErrInvalidArgument, v.Type())
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		if v.IsNil() {
			return fmt.Errorf("%w: callback is a nil %s", ErrInvalidArgument, v.Type())
		}
	}
	return nil
}
