package grbl

import "fmt"

// Opt holds a value that may be absent from a report.
type Opt[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }
func None[T any]() Opt[T]    { return Opt[T]{} }

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }
func (o Opt[T]) OK() bool       { return o.ok }

// Or returns the value if present, else def.
func (o Opt[T]) Or(def T) T {
	if !o.ok {
		return def
	}
	return o.v
}

func (o Opt[T]) String() string {
	if !o.ok {
		return "none"
	}
	return fmt.Sprint(o.v)
}
