package testdata

import "github.com/amirkhaki/lincheck/pkg/fiber"

// ListQueue is an unsynchronized queue over a dummy head node.
type ListQueue struct {
	y          fiber.Yielder
	head, tail *node
}

func (q *ListQueue) Reset() {
	dummy := &node{}
	q.head, q.tail = dummy, dummy
}

func (q *ListQueue) Add(v int) {
	n := &node{value: v}
	t := q.tail
	t.next = n
	q.tail = n
}

func (q *ListQueue) Remove() int {
	h := q.head
	next := h.next
	if next == nil {
		return -1
	}
	q.head = next
	return next.value
}
