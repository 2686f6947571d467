// Package aids holds tiny helpers shared by every package in this module.
package aids

import (
	"encoding/json"
	"fmt"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// IsError returns true if err is non-nil
func IsError(err error) bool { return err != nil }

// Assert panics if condition is false
func Assert(condition bool, v any) {
	if condition {
		return
	}
	if err, ok := v.(error); ok {
		panic(err)
	}
	panic(fmt.Errorf("%#v", v))
}

// Must0 panics if err != nil
func Must0(err error) {
	Assert(!IsError(err), err)
}

// Must returns val if err is nil, otherwise panics with err
func Must[T any](val T, err error) T {
	Assert(!IsError(err), err)
	return val
}

// MustMarshal marshals v, panicking on failure. Only for values whose shape
// the caller controls.
func MustMarshal(v any) json.RawMessage { return Must(json.Marshal(v)) }

// Clamp pins v to the inclusive range [lo, hi].
func Clamp[T int | int64 | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
