// Package schedule enumerates interleavings of registered threads.
package schedule

import "strconv"

// Step is the outcome of advancing a schedule by one decision: either the
// index of the thread to resume, or one of the sentinels Delay and Done.
type Step int

const (
	Done  Step = -1
	Delay Step = -2
)

func (s Step) String() string {
	switch s {
	case Done:
		return "done"
	case Delay:
		return "*"
	default:
		return strconv.Itoa(int(s))
	}
}

// Strategy defines the interface for schedule generators.
// The driver calls NextSchedule to prepare an interleaving, then NextStep
// repeatedly until it returns Done, calling Completed whenever the thread it
// just resumed ran to completion and Blocked whenever it suspended waiting on
// another thread.
type Strategy interface {
	// NextSchedule prepares a new interleaving. It returns false once the
	// strategy is exhausted.
	NextSchedule() bool

	// NextStep returns the next thread to resume, Delay, or Done.
	NextStep() Step

	// Completed acknowledges that the thread returned by the last NextStep
	// finished.
	Completed()

	// Blocked reports that the thread returned by the last NextStep cannot
	// make progress until another thread runs.
	Blocked()
}
