package collections

import (
	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/fiber"
	"github.com/amirkhaki/lincheck/pkg/harness"
)

func init() {
	register(Descriptor{
		Name:  "msq",
		Long:  "Michael-Scott Queue",
		Order: harness.FIFO,
		Spec:  "msq",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewMSQueue(y, p)
		},
	})
	register(Descriptor{
		Name:  "tlq",
		Long:  "Two-Lock Queue",
		Order: harness.FIFO,
		Spec:  "msq",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewTwoLockQueue(y, p, false)
		},
	})
	register(Descriptor{
		Name:  "btlq",
		Long:  "Two-Lock Queue (bugged mutex)",
		Order: harness.FIFO,
		Spec:  "msq",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewTwoLockQueue(y, p, true)
		},
	})
	register(Descriptor{
		Name:  "sl",
		Long:  "Single List",
		Order: harness.FIFO,
		Spec:  "msq",
		New: func(y fiber.Yielder, p alloc.Policy) harness.Collection {
			return NewSingleList(y, p)
		},
	})
}

// MSQueue is the Michael-Scott lock-free queue over a dummy head node.
type MSQueue struct {
	y          fiber.Yielder
	pool       *alloc.Pool[node]
	head, tail *node
}

func NewMSQueue(y fiber.Yielder, p alloc.Policy) *MSQueue {
	q := &MSQueue{y: y, pool: alloc.NewPool[node](p)}
	q.Reset()
	return q
}

func (q *MSQueue) Reset() {
	q.pool.Clear()
	dummy := q.pool.Alloc()
	q.head, q.tail = dummy, dummy
}

func (q *MSQueue) Add(v int) {
	n := q.pool.Alloc()
	n.value = v
	for {
		q.y.Yield()
		t := q.tail
		q.y.Yield()
		next := t.next
		q.y.Yield()
		if t != q.tail {
			continue
		}
		if next != nil {
			q.tail = next
			continue
		}
		if t.next == nil {
			t.next = n
			q.y.Yield()
			if q.tail == t {
				q.tail = n
			}
			return
		}
	}
}

func (q *MSQueue) Remove() int {
	for {
		q.y.Yield()
		h := q.head
		q.y.Yield()
		t := q.tail
		q.y.Yield()
		next := h.next
		q.y.Yield()
		if h != q.head {
			continue
		}
		if h == t {
			if next == nil {
				return harness.Empty
			}
			if q.tail == t {
				q.tail = next
			}
			continue
		}
		v := next.value
		if q.head == h {
			q.head = next
			q.pool.Free(h)
			return v
		}
	}
}

// TwoLockQueue has separate head and tail locks over a dummy head node.
// With a bugged mutex both locks can be held by two fibers at once.
type TwoLockQueue struct {
	y          fiber.Yielder
	pool       *alloc.Pool[node]
	hl, tl     spinlock
	head, tail *node
}

func NewTwoLockQueue(y fiber.Yielder, p alloc.Policy, bugged bool) *TwoLockQueue {
	q := &TwoLockQueue{
		y:    y,
		pool: alloc.NewPool[node](p),
		hl:   spinlock{y: y, racy: bugged},
		tl:   spinlock{y: y, racy: bugged},
	}
	q.Reset()
	return q
}

func (q *TwoLockQueue) Reset() {
	q.pool.Clear()
	q.hl.unlock()
	q.tl.unlock()
	dummy := q.pool.Alloc()
	q.head, q.tail = dummy, dummy
}

func (q *TwoLockQueue) Add(v int) {
	n := q.pool.Alloc()
	n.value = v
	q.tl.lock()
	q.y.Yield()
	q.tail.next = n
	q.y.Yield()
	q.tail = n
	q.tl.unlock()
}

func (q *TwoLockQueue) Remove() int {
	q.hl.lock()
	q.y.Yield()
	h := q.head
	next := h.next
	if next == nil {
		q.hl.unlock()
		return harness.Empty
	}
	q.y.Yield()
	v := next.value
	q.head = next
	q.hl.unlock()
	q.pool.Free(h)
	return v
}

// SingleList is an unsynchronized linked-list queue.
type SingleList struct {
	y          fiber.Yielder
	pool       *alloc.Pool[node]
	head, tail *node
}

func NewSingleList(y fiber.Yielder, p alloc.Policy) *SingleList {
	q := &SingleList{y: y, pool: alloc.NewPool[node](p)}
	q.Reset()
	return q
}

func (q *SingleList) Reset() {
	q.pool.Clear()
	dummy := q.pool.Alloc()
	q.head, q.tail = dummy, dummy
}

func (q *SingleList) Add(v int) {
	n := q.pool.Alloc()
	n.value = v
	q.y.Yield()
	t := q.tail
	q.y.Yield()
	t.next = n
	q.y.Yield()
	q.tail = n
}

func (q *SingleList) Remove() int {
	q.y.Yield()
	h := q.head
	q.y.Yield()
	next := h.next
	if next == nil {
		return harness.Empty
	}
	q.y.Yield()
	q.head = next
	v := next.value
	q.pool.Free(h)
	return v
}
