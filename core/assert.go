package core

import "github.com/pkg/errors"

// ErrInvariant marks a violated pipeline invariant. Assertion panics carry an
// error wrapping it so boundaries that recover can classify the failure.
var ErrInvariant = errors.New("tensorc invariant violated")

// Assertf panics with a stack-carrying error when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		Fatalf(format, args...)
	}
}

// Fatalf panics unconditionally with a stack-carrying error.
func Fatalf(format string, args ...any) {
	panic(errors.Wrapf(ErrInvariant, format, args...))
}

// Recover converts an assertion panic into an error stored in *err. Other
// panics are re-raised. Use as: defer core.Recover(&err).
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok && errors.Is(e, ErrInvariant) {
		*err = e
		return
	}
	panic(r)
}
