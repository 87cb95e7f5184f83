package collections

import (
	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/fiber"
	"github.com/amirkhaki/lincheck/pkg/harness"
)

func init() {
	register(Descriptor{
		Name:  "ts",
		Long:  "Treiber Stack",
		Order: harness.LIFO,
		Spec:  "ts",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewTreiberStack(y, p)
		},
	})
	register(Descriptor{
		Name:  "bls",
		Long:  "Broken-Lock Stack",
		Order: harness.LIFO,
		Spec:  "ts",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewBrokenLockStack(y, p)
		},
	})
}

// TreiberStack is a lock-free stack whose compare-and-swap is a check and a
// write with no yield in between.
type TreiberStack struct {
	y    fiber.Yielder
	pool *alloc.Pool[node]
	top  *node
}

func NewTreiberStack(y fiber.Yielder, p alloc.Policy) *TreiberStack {
	return &TreiberStack{y: y, pool: alloc.NewPool[node](p)}
}

func (s *TreiberStack) Reset() {
	s.top = nil
	s.pool.Clear()
}

func (s *TreiberStack) Add(v int) {
	n := s.pool.Alloc()
	n.value = v
	for {
		s.y.Yield()
		t := s.top
		n.next = t
		s.y.Yield()
		if s.top == t {
			s.top = n
			return
		}
	}
}

func (s *TreiberStack) Remove() int {
	for {
		s.y.Yield()
		t := s.top
		if t == nil {
			return harness.Empty
		}
		s.y.Yield()
		next := t.next
		s.y.Yield()
		if s.top == t {
			s.top = next
			v := t.value
			s.pool.Free(t)
			return v
		}
	}
}

// BrokenLockStack guards a sequential stack with a lock whose test and set
// are separated by a yield.
type BrokenLockStack struct {
	y    fiber.Yielder
	pool *alloc.Pool[node]
	mu   spinlock
	top  *node
}

func NewBrokenLockStack(y fiber.Yielder, p alloc.Policy) *BrokenLockStack {
	return &BrokenLockStack{
		y:    y,
		pool: alloc.NewPool[node](p),
		mu:   spinlock{y: y, racy: true},
	}
}

func (s *BrokenLockStack) Reset() {
	s.top = nil
	s.mu.unlock()
	s.pool.Clear()
}

func (s *BrokenLockStack) Add(v int) {
	s.mu.lock()
	n := s.pool.Alloc()
	n.value = v
	n.next = s.top
	s.y.Yield()
	s.top = n
	s.mu.unlock()
}

func (s *BrokenLockStack) Remove() int {
	s.mu.lock()
	s.y.Yield()
	t := s.top
	if t == nil {
		s.mu.unlock()
		return harness.Empty
	}
	s.y.Yield()
	s.top = t.next
	v := t.value
	s.mu.unlock()
	s.pool.Free(t)
	return v
}
