package testdata

import "github.com/amirkhaki/lincheck/pkg/fiber"

type node struct {
	value int
	next  *node
}

// LockedStack is a stack guarded by a test-and-set flag, written without
// yields. Instrumenting it yields between the test and the set.
type LockedStack struct {
	y    fiber.Yielder
	held bool
	top  *node
}

func (s *LockedStack) Reset() {
	s.held = false
	s.top = nil
}

func (s *LockedStack) lock() {
	for s.held {
	}
	s.held = true
}

func (s *LockedStack) unlock() {
	s.held = false
}

func (s *LockedStack) Add(v int) {
	n := &node{value: v}
	s.lock()
	n.next = s.top
	s.top = n
	s.unlock()
}

func (s *LockedStack) Remove() int {
	s.lock()
	t := s.top
	if t == nil {
		s.unlock()
		return -1
	}
	s.top = t.next
	s.unlock()
	return t.value
}
