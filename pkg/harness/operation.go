// Package harness wraps add and remove operations on a collection as
// schedulable fibers and records their call/return events on a discretized
// clock.
package harness

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind represents the type of an operation.
type Kind uint8

const (
	Add Kind = iota
	Remove
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "Add"
	case Remove:
		return "Rem"
	default:
		return "unknown"
	}
}

// Order is the removal discipline a collection promises.
type Order uint8

const (
	NoOrder Order = iota
	LIFO
	FIFO
)

func (o Order) String() string {
	switch o {
	case LIFO:
		return "lifo"
	case FIFO:
		return "fifo"
	default:
		return "none"
	}
}

// ParseOrder parses an order name as accepted on the command line.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "none", "no_order", "no-order":
		return NoOrder, nil
	case "lifo", "lifo_order", "stack":
		return LIFO, nil
	case "fifo", "fifo_order", "queue":
		return FIFO, nil
	}
	return NoOrder, fmt.Errorf("invalid order %q", s)
}

const (
	// Pending is the end time of an operation that has not returned.
	Pending = math.MaxInt

	// Empty is the result of a remove on an empty collection.
	Empty = -1

	// Unknown is the result of a remove that has not returned yet.
	Unknown = -2
)

// Operation is one add or remove instance. Operations are created once per
// enumeration and reset before every schedule.
type Operation struct {
	ID     int
	Kind   Kind
	Value  int // parameter of an add
	Result int // result of a remove
	Start  int
	End    int
}

// Reset clears the timestamps and result. Calling it twice is the same as
// calling it once.
func (op *Operation) Reset() {
	op.Start = Pending
	op.End = Pending
	if op.Kind == Remove {
		op.Result = Unknown
	}
}

// Returned reports whether the operation has completed in this schedule.
func (op *Operation) Returned() bool {
	return op.End != Pending
}

// Precedes reports whether op returned before other was called.
func (op *Operation) Precedes(other *Operation) bool {
	return op.End < other.Start
}

// CallToken renders the call event, e.g. "3:Add(2)?" or "4:Rem?".
func (op *Operation) CallToken() string {
	if op.Kind == Add {
		return fmt.Sprintf("%d:Add(%d)?", op.ID, op.Value)
	}
	return fmt.Sprintf("%d:Rem?", op.ID)
}

// ReturnToken renders the return event, e.g. "3:Add(2)!" or "4:Rem!E".
func (op *Operation) ReturnToken() string {
	if op.Kind == Add {
		return fmt.Sprintf("%d:Add(%d)!", op.ID, op.Value)
	}
	return fmt.Sprintf("%d:Rem!%s", op.ID, result(op.Result))
}

// Label identifies the operation's class without its id. Sequential
// histories are sequences of labels.
func (op *Operation) Label() string {
	if op.Kind == Add {
		return "Add(" + strconv.Itoa(op.Value) + ")"
	}
	return "Rem(" + result(op.Result) + ")"
}

func (op *Operation) String() string {
	end := "_"
	if op.End != Pending {
		end = strconv.Itoa(op.End)
	}
	return fmt.Sprintf("%d:%s[%d,%s]", op.ID, op.Label(), op.Start, end)
}

func result(r int) string {
	switch r {
	case Empty:
		return "E"
	case Unknown:
		return "?"
	default:
		return strconv.Itoa(r)
	}
}
