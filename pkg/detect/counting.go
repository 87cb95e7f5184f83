package detect

import (
	"io"

	"github.com/amirkhaki/lincheck/pkg/counting"
	"github.com/amirkhaki/lincheck/pkg/harness"
)

// Thresholds are the number of barriers that must be observed before the
// order and empty checks run. Fewer barriers make spans too coarse for the
// checks to mean anything.
type Thresholds struct {
	Order int
	Empty int
}

// DefaultThresholds returns the order threshold 1 and empty threshold 2.
func DefaultThresholds() Thresholds {
	return Thresholds{Order: 1, Empty: 2}
}

// Counting checks a schedule against interval counts of its operations. It
// never reports a violation for a linearizable history but may miss some.
type Counting struct {
	methods    counting.Methods
	hist       *counting.Histogram
	clock      *harness.Clock
	order      harness.Order
	thresholds Thresholds
	verify     bool
	violations int
}

// NewCounting creates a detector for values 1..values, reading times from
// clock.
func NewCounting(values, barriers int, order harness.Order, clock *harness.Clock, th Thresholds) *Counting {
	m := counting.NewMethods(values)
	return &Counting{
		methods:    m,
		hist:       counting.NewHistogram(m.Count(), barriers),
		clock:      clock,
		order:      order,
		thresholds: th,
		verify:     true,
	}
}

// SetVerify enables or disables the checks. Counting still happens.
func (c *Counting) SetVerify(on bool) { c.verify = on }

// Histogram returns the underlying counters.
func (c *Counting) Histogram() *counting.Histogram { return c.hist }

// Methods returns the method numbering.
func (c *Counting) Methods() counting.Methods { return c.methods }

// Violations returns the number of schedules flagged so far.
func (c *Counting) Violations() int { return c.violations }

// Reset prepares for a new schedule.
func (c *Counting) Reset() {
	c.hist.Reset()
}

func (c *Counting) OnCall(op *harness.Operation) {
	c.hist.Call(c.clock.Now(), c.methods.Of(op.Kind, op.Value, harness.Unknown), op.Start)
}

func (c *Counting) OnReturn(op *harness.Operation) {
	c.hist.Return(c.clock.Now(),
		c.methods.Of(op.Kind, op.Value, harness.Unknown),
		c.methods.Of(op.Kind, op.Value, op.Result),
		op.Start, op.End)
}

// Check evaluates the finished schedule and returns the first violation
// found.
func (c *Counting) Check() (Violation, bool) {
	if !c.verify {
		return Violation{}, false
	}
	v, ok := c.check()
	if ok {
		c.violations++
	}
	return v, ok
}

func (c *Counting) check() (Violation, bool) {
	elapsed := c.hist.Elapsed()
	values := c.methods.Values()

	for v := 1; v <= values; v++ {
		if c.removeViolation(v) {
			return Violation{Kind: RemoveViolation, V: v}, true
		}
		if elapsed < c.thresholds.Order {
			continue
		}
		for u := 1; u <= values; u++ {
			if u != v && c.orderViolation(u, v) {
				return Violation{Kind: OrderViolation, U: u, V: v}, true
			}
		}
	}

	if elapsed >= c.thresholds.Empty && c.emptyViolation() {
		return Violation{Kind: EmptyViolation}, true
	}
	return Violation{}, false
}

// removeViolation: v was removed more often than it was added.
func (c *Counting) removeViolation(v int) bool {
	n := c.hist.Total(c.methods.Remove(v))
	return n > 0 && n > c.hist.Total(c.methods.Add(v))
}

func (c *Counting) orderViolation(u, v int) bool {
	span := c.hist.Span
	addu, remu := span(c.methods.Add(u)), span(c.methods.Remove(u))
	addv, remv := span(c.methods.Add(v)), span(c.methods.Remove(v))
	remuu := span(c.methods.Remove(harness.Unknown))

	if !addu.Exists() || !addv.Exists() || !remv.Exists() {
		return false
	}

	switch c.order {
	case harness.LIFO:
		return addv.Before(addu) && addu.Before(remv) && remv.Before(remu)
	case harness.FIFO:
		return addu.Before(addv) &&
			((remu.Exists() && remv.Before(remu)) || (!remu.Exists() && remv.Before(remuu)))
	default:
		return false
	}
}

// emptyViolation: a remove returned empty during a window in which some
// value had certainly been added and not yet removed.
func (c *Counting) emptyViolation() bool {
	m := c.methods.Remove(harness.Empty)
	reme := c.hist.Span(m)
	if !reme.Exists() {
		return false
	}
	hi := min(reme.Hi, c.hist.Bound()-1)

	for v := 1; v <= c.methods.Values(); v++ {
		addv := c.hist.Span(c.methods.Add(v))
		remv := c.hist.Span(c.methods.Remove(v))
		if !addv.Exists() {
			continue
		}
		for i := reme.Lo; i <= hi; i++ {
			for j := i; j <= hi; j++ {
				if c.hist.Cell(m, i, j) > 0 && addv.Hi < i && j < remv.Lo {
					return true
				}
			}
		}
	}
	return false
}

// Dump writes the current counters.
func (c *Counting) Dump(w io.Writer) error {
	return c.hist.Dump(w, c.methods.Name)
}
