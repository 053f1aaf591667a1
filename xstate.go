// Package xstate provides a statechart transition engine for Go that
// implements Harel statechart concepts including hierarchical states,
// parallel regions, history pseudo-states, guarded transitions and
// run-to-completion event processing.
//
// The engine is a pure function over immutable values: given a machine
// definition, a current State and an event, Transition returns the next
// State together with the ordered list of side-effect actions the caller
// should execute. The engine itself never schedules timers, spawns
// services or moves events between processes; delayed sends, invocations
// and activities are emitted as descriptors for the hosting runtime.
package xstate

import "time"

// Duration converts a millisecond count to a time.Duration.
func Duration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// DefaultDelimiter separates path segments in state ids and dotted
// state-value strings.
const DefaultDelimiter = "."

// DefaultTransientLimit bounds the number of microsteps a single
// Transition call may take while draining raised and null events.
const DefaultTransientLimit = 100
