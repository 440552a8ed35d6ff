package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by Take/Offer after Close.
	ErrQueueClosed = errors.New("task queue closed")

	// ErrUnknownProfile is returned for operations on unregistered profiles.
	ErrUnknownProfile = errors.New("unknown profile")
)

// Three failure tiers govern what happens to a profile's worker:
//
//   - Fatal: stop the profile's automation entirely (game not installed,
//     unrecoverable device state). The worker exits.
//   - Intervention: pause until an operator resolves a blocked state
//     (session disconnected, account locked). The worker suspends; the task
//     is re-offered and runs again after Resume.
//   - everything else is recoverable and must be converted into a
//     reschedule inside the task itself; an error reaching the worker that
//     is neither Fatal nor Intervention is treated as a task bug.

// Fatal marks an error as unrecoverable for the whole profile.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// Fatalf is shorthand for Fatal(fmt.Errorf(...)).
func Fatalf(format string, args ...any) error {
	return fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries the fatal tier.
func IsFatal(err error) bool {
	var e fatalError
	return errors.As(err, &e)
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return fmt.Sprintf("fatal: %v", e.err) }
func (e fatalError) Unwrap() error { return e.err }

// Intervention marks an error as requiring operator action before the
// profile can continue.
func Intervention(err error) error {
	if err == nil {
		return nil
	}
	return interventionError{err: err}
}

// Interventionf is shorthand for Intervention(fmt.Errorf(...)).
func Interventionf(format string, args ...any) error {
	return interventionError{err: fmt.Errorf(format, args...)}
}

// IsIntervention reports whether err carries the needs-intervention tier.
func IsIntervention(err error) bool {
	var e interventionError
	return errors.As(err, &e)
}

type interventionError struct{ err error }

func (e interventionError) Error() string { return fmt.Sprintf("needs intervention: %v", e.err) }
func (e interventionError) Unwrap() error { return e.err }
