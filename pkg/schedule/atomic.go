package schedule

// Atomic enumerates all n! orders of n threads, running each thread to
// completion before the next one starts. Successive permutations differ by a
// single adjacent transposition ("plain changes", Knuth, Combinatorial
// Algorithms, Algorithm 7.2.1.2P).
type Atomic struct {
	threads   int
	order     []int
	c, o      []int
	turn      int
	exhausted bool
}

// NewAtomic creates a permutation generator for n threads.
func NewAtomic(n int) *Atomic {
	a := &Atomic{
		threads: n,
		c:       make([]int, n),
		o:       make([]int, n),
	}
	for i := range a.o {
		a.o[i] = 1
	}
	return a
}

func (a *Atomic) NextSchedule() bool {
	a.turn = 0
	if a.exhausted {
		return false
	}
	if a.order == nil {
		a.order = make([]int, a.threads)
		for i := range a.order {
			a.order[i] = i
		}
		a.exhausted = a.threads == 0
		return !a.exhausted
	}

	j, s := a.threads-1, 0
	for j >= 0 {
		q := a.c[j] + a.o[j]
		if q >= 0 && q != j+1 {
			x, y := j-a.c[j]+s, j-q+s
			a.order[x], a.order[y] = a.order[y], a.order[x]
			a.c[j] = q
			return true
		}
		if q == j+1 {
			if j == 0 {
				break
			}
			s++
		}
		a.o[j] = -a.o[j]
		j--
	}
	a.exhausted = true
	return false
}

func (a *Atomic) NextStep() Step {
	if a.turn >= a.threads {
		return Done
	}
	return Step(a.order[a.turn])
}

func (a *Atomic) Completed() {
	a.turn++
}

// Blocked does nothing. A thread running alone never waits on another.
func (a *Atomic) Blocked() {}

// Permutation returns a copy of the current thread order.
func (a *Atomic) Permutation() []int {
	out := make([]int, len(a.order))
	copy(out, a.order)
	return out
}
