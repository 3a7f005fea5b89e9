// Package apperr classifies outbound-call failures into the small taxonomy
// the worker and degradation manager reason about (SPEC_FULL.md §3 "Error
// handling"): network, decode, circuit-open, and timeout. Call sites wrap the
// underlying error with one of the constructors below so that
// errors.Is(err, apperr.ErrCircuitOpen) works regardless of which dependency
// raised it.
package apperr

import "errors"

// Sentinel kinds. Compare with errors.Is, never with ==, since wrapped errors
// carry additional context.
var (
	ErrNetwork     = errors.New("network error")
	ErrDecode      = errors.New("decode error")
	ErrCircuitOpen = errors.New("circuit breaker open")
	ErrTimeout     = errors.New("operation timed out")
)

// Wrapped pairs a sentinel kind with the underlying cause and an optional
// dependency name, used by the degradation manager to decide which breaker
// to trip.
type Wrapped struct {
	Kind       error
	Dependency string
	Cause      error
}

func (w *Wrapped) Error() string {
	if w.Cause == nil {
		if w.Dependency == "" {
			return w.Kind.Error()
		}
		return w.Dependency + ": " + w.Kind.Error()
	}
	if w.Dependency == "" {
		return w.Kind.Error() + ": " + w.Cause.Error()
	}
	return w.Dependency + ": " + w.Kind.Error() + ": " + w.Cause.Error()
}

func (w *Wrapped) Unwrap() error { return w.Kind }

func (w *Wrapped) Is(target error) bool {
	return errors.Is(w.Kind, target)
}

// Network wraps an error as a network failure for dependency dep.
func Network(dep string, cause error) error {
	return &Wrapped{Kind: ErrNetwork, Dependency: dep, Cause: cause}
}

// Decode wraps an error as a response-decode failure for dependency dep.
func Decode(dep string, cause error) error {
	return &Wrapped{Kind: ErrDecode, Dependency: dep, Cause: cause}
}

// CircuitOpen reports that dep's breaker is already open; there is no
// underlying cause because the call was never attempted.
func CircuitOpen(dep string) error {
	return &Wrapped{Kind: ErrCircuitOpen, Dependency: dep}
}

// Timeout wraps an error as a deadline-exceeded failure for dependency dep.
func Timeout(dep string, cause error) error {
	return &Wrapped{Kind: ErrTimeout, Dependency: dep, Cause: cause}
}
