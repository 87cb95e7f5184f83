package schedule

import "math/rand"

// Random produces a fixed number of random interleavings. At every step one
// of the unfinished threads is picked uniformly; the same seed always
// produces the same sequence of schedules.
type Random struct {
	threads   int
	runs      int
	done      int
	rng       *rand.Rand
	remaining []int
	current   int
}

// NewRandom creates a strategy producing runs schedules for n threads.
func NewRandom(n, runs int, seed int64) *Random {
	return &Random{
		threads: n,
		runs:    runs,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (r *Random) NextSchedule() bool {
	if r.done >= r.runs {
		return false
	}
	r.done++
	r.remaining = r.remaining[:0]
	for i := 0; i < r.threads; i++ {
		r.remaining = append(r.remaining, i)
	}
	return true
}

func (r *Random) NextStep() Step {
	if len(r.remaining) == 0 {
		return Done
	}
	r.current = r.rng.Intn(len(r.remaining))
	return Step(r.remaining[r.current])
}

// Blocked does nothing; the next pick is random anyway.
func (r *Random) Blocked() {}

func (r *Random) Completed() {
	r.remaining = append(r.remaining[:r.current], r.remaining[r.current+1:]...)
}
