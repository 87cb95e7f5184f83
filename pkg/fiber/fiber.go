// Package fiber provides cooperative execution contexts for driving
// operations one step at a time.
//
// Every fiber runs on its own goroutine, but control is handed back and forth
// with unbuffered channels so that exactly one party runs at any instant:
// either the scheduler (the goroutine calling Resume) or a single fiber.
// Suspension only happens where the code running inside a fiber calls Yield.
package fiber

import (
	"fmt"
	"runtime/debug"
)

// State represents the lifecycle state of a fiber.
type State uint8

const (
	StateNew State = iota
	StateSuspended
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Yielder is implemented by anything that can suspend the calling operation.
// Collections under test receive one and call Yield around shared accesses.
type Yielder interface {
	Yield()
}

// Blocker is implemented by Yielders that can tell the scheduler the calling
// operation waits on another one. A blocked fiber is suspended like a yielded
// one, but the scheduler may pass the turn on without counting a preemption.
type Blocker interface {
	Block()
}

// Block suspends the calling operation as blocked when y supports it, and
// yields otherwise. Busy-wait loops call it instead of Yield.
func Block(y Yielder) {
	if b, ok := y.(Blocker); ok {
		b.Block()
		return
	}
	y.Yield()
}

type nopYielder struct{}

func (nopYielder) Yield() {}
func (nopYielder) Block() {}

// Nop is a Yielder that never suspends. It is useful when a collection runs
// outside of a substrate.
var Nop Yielder = nopYielder{}

// handoff is what a fiber sends back to its resumer.
type handoff struct {
	done    bool
	blocked bool
	panic   *PanicError
}

// Fiber is one execution context bound to an entry function.
type Fiber struct {
	id     int
	entry  func()
	state   State
	blocked bool
	resume  chan struct{}
	parked  chan handoff
}

// ID returns the registration index of the fiber.
func (f *Fiber) ID() int { return f.id }

// State returns the current lifecycle state.
func (f *Fiber) State() State { return f.state }

// Blocked reports whether f last suspended through Block.
func (f *Fiber) Blocked() bool { return f.blocked }

// PanicError carries a panic raised inside a fiber back to the resumer.
type PanicError struct {
	Fiber int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fiber %d panicked: %v\n%s", e.Fiber, e.Value, e.Stack)
}

// Substrate owns the fibers of one session and tracks which one is current.
// It is not safe for concurrent use; independent sessions use independent
// substrates.
type Substrate struct {
	fibers  []*Fiber
	current *Fiber
}

// NewSubstrate returns an empty substrate.
func NewSubstrate() *Substrate {
	return &Substrate{}
}

// Register creates a fiber bound to entry. Nothing runs until the fiber is
// started and resumed.
func (s *Substrate) Register(entry func()) *Fiber {
	f := &Fiber{
		id:     len(s.fibers),
		entry:  entry,
		resume: make(chan struct{}),
		parked: make(chan handoff),
	}
	s.fibers = append(s.fibers, f)
	return f
}

// Fibers returns the registered fibers in registration order.
func (s *Substrate) Fibers() []*Fiber {
	return s.fibers
}

// Start (re)enters f at its entry point. The fiber parks before running any
// user code, so the first Resume executes up to its first Yield.
// Starting a fiber that is still suspended mid-run panics.
func (s *Substrate) Start(f *Fiber) {
	if f.state == StateSuspended || f.state == StateRunning {
		panic(fmt.Sprintf("fiber: start of %s fiber %d", f.state, f.id))
	}
	f.state = StateSuspended
	go s.trampoline(f)
}

func (s *Substrate) trampoline(f *Fiber) {
	<-f.resume
	var pe *PanicError
	func() {
		defer func() {
			if r := recover(); r != nil {
				pe = &PanicError{Fiber: f.id, Value: r, Stack: debug.Stack()}
			}
		}()
		f.entry()
	}()
	f.parked <- handoff{done: true, panic: pe}
}

// Resume transfers control to f and blocks until f yields or completes. It
// reports whether f completed. Resuming a completed fiber panics, and a panic
// inside f is re-raised here as a *PanicError.
func (s *Substrate) Resume(f *Fiber) bool {
	if f.state != StateSuspended {
		panic(fmt.Sprintf("fiber: resume of %s fiber %d", f.state, f.id))
	}
	prev := s.current
	s.current = f
	f.state = StateRunning
	f.resume <- struct{}{}
	h := <-f.parked
	s.current = prev
	f.blocked = h.blocked
	if h.done {
		f.state = StateCompleted
		if h.panic != nil {
			panic(h.panic)
		}
		return true
	}
	f.state = StateSuspended
	return false
}

// Yield suspends the current fiber and returns control to its resumer. It is
// a no-op when called outside of any fiber.
func (s *Substrate) Yield() {
	s.suspend(false)
}

// Block suspends the current fiber and marks it as waiting on another one.
// Like Yield, it is a no-op outside of any fiber.
func (s *Substrate) Block() {
	s.suspend(true)
}

func (s *Substrate) suspend(blocked bool) {
	f := s.current
	if f == nil {
		return
	}
	f.parked <- handoff{blocked: blocked}
	<-f.resume
}

// Current returns the running fiber, or nil when the scheduler is running.
func (s *Substrate) Current() *Fiber {
	return s.current
}
