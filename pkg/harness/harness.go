package harness

import (
	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/fiber"
)

// Collection is the object under test: something that can be reinitialized,
// added to, and removed from. Remove returns Empty when there is nothing to
// remove.
type Collection interface {
	Reset()
	Add(v int)
	Remove() int
}

// Factory builds a collection that yields through y and allocates nodes
// with policy p.
type Factory func(y fiber.Yielder, p alloc.Policy) Collection

// Observer is notified of every call and return, after the operation has
// been stamped.
type Observer interface {
	OnCall(op *Operation)
	OnReturn(op *Operation)
}

// Harness owns the operations of one enumeration, one fiber per operation.
// Operations and fibers are created once and reused by every schedule.
type Harness struct {
	substrate *fiber.Substrate
	ops       []*Operation
	fibers    []*fiber.Fiber
	clock     Clock
	history   History
	target    Collection
	observer  Observer
}

// New registers adds add operations (values 1..adds) followed by removes
// remove operations on s.
func New(s *fiber.Substrate, adds, removes int) *Harness {
	h := &Harness{substrate: s}
	for i := 0; i < adds+removes; i++ {
		op := &Operation{ID: i, Kind: Add, Value: i + 1}
		if i >= adds {
			op.Kind = Remove
			op.Value = 0
		}
		op.Reset()
		h.ops = append(h.ops, op)
		h.fibers = append(h.fibers, s.Register(h.entry(op)))
	}
	return h
}

// Use directs subsequent operations at c.
func (h *Harness) Use(c Collection) {
	h.target = c
}

// Observe sets the observer notified of calls and returns. nil disables
// notifications.
func (h *Harness) Observe(o Observer) {
	h.observer = o
}

// Operations returns the operations in id order.
func (h *Harness) Operations() []*Operation {
	return h.ops
}

// Fibers returns the fibers in operation order; fiber i runs operation i.
func (h *Harness) Fibers() []*fiber.Fiber {
	return h.fibers
}

// Clock returns the schedule clock.
func (h *Harness) Clock() *Clock {
	return &h.clock
}

// History returns the schedule token buffer.
func (h *Harness) History() *History {
	return &h.history
}

// Reset prepares for a new schedule: operations, clock, history and the
// target collection are all reinitialized.
func (h *Harness) Reset() {
	for _, op := range h.ops {
		op.Reset()
	}
	h.clock.Reset()
	h.history.Reset()
	if h.target != nil {
		h.target.Reset()
	}
}

// Start (re)starts every fiber at its entry point.
func (h *Harness) Start() {
	for _, f := range h.fibers {
		h.substrate.Start(f)
	}
}

func (h *Harness) entry(op *Operation) func() {
	return func() {
		op.Start = h.clock.Call()
		h.history.Call(op)
		if h.observer != nil {
			h.observer.OnCall(op)
		}

		switch op.Kind {
		case Add:
			h.target.Add(op.Value)
		case Remove:
			op.Result = h.target.Remove()
		}

		op.End = h.clock.Return()
		h.history.Return(op)
		if h.observer != nil {
			h.observer.OnReturn(op)
		}
	}
}
