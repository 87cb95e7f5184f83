// Package counting tracks, per operation class, how many operations started
// and ended in each discretized time bucket.
package counting

import (
	"fmt"
	"math"

	"github.com/amirkhaki/lincheck/pkg/harness"
)

// Infinity bounds spans that are open or empty.
const Infinity = math.MaxInt

// Interval is the span of a method: the earliest start and latest end bucket
// of any of its instances. A method never observed spans [Infinity, Infinity];
// one with a pending instance spans [lo, Infinity].
type Interval struct {
	Lo, Hi int
}

// Never is the span of a method with no instances.
var Never = Interval{Infinity, Infinity}

// Exists reports whether any instance was observed.
func (i Interval) Exists() bool {
	return i.Lo != Infinity
}

// Before reports whether every instance in i ended before any instance in o
// started.
func (i Interval) Before(o Interval) bool {
	return i.Hi < o.Lo
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s,%s]", bound(i.Lo), bound(i.Hi))
}

func bound(n int) string {
	if n == Infinity {
		return "inf"
	}
	return fmt.Sprint(n)
}

// Methods numbers the operation classes for V values:
//
//	0..V-1    add(1)..add(V)
//	V..2V-1   rem(1)..rem(V)
//	2V        rem(empty)
//	2V+1      rem(unknown), a remove that has not returned
//	2V+2      add of any other value
//	2V+3      rem of any other value
type Methods struct {
	values int
}

// NewMethods returns the numbering for values 1..v.
func NewMethods(v int) Methods {
	return Methods{values: v}
}

// Values returns V.
func (m Methods) Values() int { return m.values }

// Count returns the number of method classes.
func (m Methods) Count() int { return 2*m.values + 4 }

// Add returns the class of add(v).
func (m Methods) Add(v int) int {
	if v >= 1 && v <= m.values {
		return v - 1
	}
	return 2*m.values + 2
}

// Remove returns the class of a remove that returned r.
func (m Methods) Remove(r int) int {
	switch {
	case r == harness.Empty:
		return 2 * m.values
	case r == harness.Unknown:
		return 2*m.values + 1
	case r >= 1 && r <= m.values:
		return m.values + r - 1
	default:
		return 2*m.values + 3
	}
}

// Of returns the class of an operation of kind k with parameter v and
// result r.
func (m Methods) Of(k harness.Kind, v, r int) int {
	if k == harness.Add {
		return m.Add(v)
	}
	return m.Remove(r)
}

// Name renders a method class for dumps.
func (m Methods) Name(i int) string {
	v := m.values
	switch {
	case i < v:
		return fmt.Sprintf("add(%d)", i+1)
	case i < 2*v:
		return fmt.Sprintf("rem(%d)", i-v+1)
	case i == 2*v:
		return "rem(E)"
	case i == 2*v+1:
		return "rem(?)"
	case i == 2*v+2:
		return "add(*)"
	default:
		return "rem(*)"
	}
}
