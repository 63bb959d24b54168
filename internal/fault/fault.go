// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package fault carries the dispatch core's fatal error taxonomy:
// precondition and invariant violations are programmer errors that must
// not be swallowed by the control loop's usual log-and-continue handling.
package fault

import "fmt"

// InvariantViolation marks a condition that should be structurally
// impossible -- e.g. two siblings running on the same host. Recovered at
// the top of the control loop and re-panicked so the host process aborts
// and restarts.
type InvariantViolation struct{ Msg string }

func (e InvariantViolation) Error() string { return e.Msg }

// Invariant panics with an InvariantViolation built from format/args.
func Invariant(format string, args ...interface{}) {
	panic(InvariantViolation{Msg: fmt.Sprintf(format, args...)})
}

// PreconditionViolation marks a programmer error distinct from an
// invariant violation -- e.g. a resource matched on the wrong host.
type PreconditionViolation struct{ Msg string }

func (e PreconditionViolation) Error() string { return e.Msg }

// Precondition panics with a PreconditionViolation built from format/args.
func Precondition(format string, args ...interface{}) {
	panic(PreconditionViolation{Msg: fmt.Sprintf(format, args...)})
}
