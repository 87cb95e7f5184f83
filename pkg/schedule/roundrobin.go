package schedule

// RoundRobin explores every placement of up to k delays in a round-robin
// order of n threads. The front thread keeps running until it completes; a
// delay rotates it to the back instead of resuming it. Delays are only
// placed while more than one thread remains.
type RoundRobin struct {
	threads   int
	bound     int
	positions []int
	queue     []int
	step      int
	applied   int // -1 before the first schedule
}

// NewRoundRobin creates a delay-bounded generator for n threads and at most
// k delays per schedule.
func NewRoundRobin(n, k int) *RoundRobin {
	if k < 0 {
		k = 0
	}
	return &RoundRobin{
		threads:   n,
		bound:     k,
		positions: make([]int, k),
		queue:     make([]int, 0, n),
		applied:   -1,
	}
}

// NextSchedule advances the delay positions. The last applied delay moves one
// step later and every position after it is re-derived as consecutive steps.
// Enumeration ends after a schedule in which no delay could be applied.
func (r *RoundRobin) NextSchedule() bool {
	switch {
	case r.applied == 0:
		return false
	case r.applied < 0:
		for i := range r.positions {
			r.positions[i] = i
		}
	default:
		r.positions[r.applied-1]++
		for i := r.applied; i < r.bound; i++ {
			r.positions[i] = r.positions[i-1] + 1
		}
	}

	r.applied = 0
	r.step = 0
	r.queue = r.queue[:0]
	for i := 0; i < r.threads; i++ {
		r.queue = append(r.queue, i)
	}
	return true
}

func (r *RoundRobin) NextStep() Step {
	if len(r.queue) == 0 {
		return Done
	}
	if len(r.queue) > 1 && r.applied < r.bound && r.positions[r.applied] == r.step {
		front := r.queue[0]
		copy(r.queue, r.queue[1:])
		r.queue[len(r.queue)-1] = front
		r.applied++
		r.step++
		return Delay
	}
	r.step++
	return Step(r.queue[0])
}

func (r *RoundRobin) Completed() {
	r.queue = r.queue[1:]
}

// Blocked rotates the front thread to the back. Unlike a delay it is not
// counted against the bound.
func (r *RoundRobin) Blocked() {
	if len(r.queue) < 2 {
		return
	}
	front := r.queue[0]
	copy(r.queue, r.queue[1:])
	r.queue[len(r.queue)-1] = front
}

// Delays returns the delay positions applied so far in the current schedule.
func (r *RoundRobin) Delays() []int {
	out := make([]int, r.applied)
	copy(out, r.positions[:r.applied])
	return out
}
