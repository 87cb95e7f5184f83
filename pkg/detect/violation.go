// Package detect decides, after each schedule, whether the observed history
// could have come from a sequential execution.
package detect

import "fmt"

// Kind represents the class of a violation.
type Kind uint8

const (
	// RemoveViolation: a value was removed more often than it was added.
	RemoveViolation Kind = iota + 1
	// OrderViolation: values left the collection against its order.
	OrderViolation
	// EmptyViolation: a remove returned empty while a value was present.
	EmptyViolation
	// LinearizationViolation: no linearization matches a sequential history.
	LinearizationViolation
)

func (k Kind) String() string {
	switch k {
	case RemoveViolation:
		return "remove"
	case OrderViolation:
		return "order"
	case EmptyViolation:
		return "empty"
	case LinearizationViolation:
		return "linearization"
	default:
		return "unknown"
	}
}

// Violation is a finding about one schedule.
type Violation struct {
	Kind Kind
	U, V int
}

// String renders the tag appended to a history line.
func (v Violation) String() string {
	switch v.Kind {
	case RemoveViolation:
		return fmt.Sprintf("(Rv:%d)", v.V)
	case OrderViolation:
		return fmt.Sprintf("(Ov:%d,%d)", v.U, v.V)
	case EmptyViolation:
		return "(Ev)"
	case LinearizationViolation:
		return "(Lv)"
	default:
		return "(?)"
	}
}
