// Package alloc is a pooled allocator for the nodes of collections under
// test. Recycling freed nodes lets a schedule reproduce ABA-style reuse.
package alloc

import (
	"fmt"
	"strings"
)

// Policy selects what happens to a freed node.
type Policy uint8

const (
	// Default never recycles a node.
	Default Policy = iota
	// LRF hands out the least recently freed node first.
	LRF
	// MRF hands out the most recently freed node first.
	MRF
)

func (p Policy) String() string {
	switch p {
	case LRF:
		return "lrf"
	case MRF:
		return "mrf"
	default:
		return "default"
	}
}

// ParsePolicy accepts the policy names and their numeric forms 0, 1 and 2.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "0", "default", "none":
		return Default, nil
	case "1", "lrf", "fifo":
		return LRF, nil
	case "2", "mrf", "lifo":
		return MRF, nil
	}
	return Default, fmt.Errorf("invalid allocation policy %q", s)
}

// Pool allocates *T values and recycles them according to a policy. It is
// not safe for concurrent use; fibers of one schedule never run in parallel.
type Pool[T any] struct {
	policy   Policy
	live     map[*T]struct{}
	free     []*T
	recycled int
}

// NewPool creates an empty pool.
func NewPool[T any](p Policy) *Pool[T] {
	return &Pool[T]{policy: p, live: make(map[*T]struct{})}
}

// Policy returns the recycling policy.
func (p *Pool[T]) Policy() Policy { return p.policy }

// Alloc returns a zeroed node, recycled if one is available.
func (p *Pool[T]) Alloc() *T {
	if len(p.free) > 0 {
		x := p.free[0]
		p.free[0] = nil
		p.free = p.free[1:]
		var zero T
		*x = zero
		p.recycled++
		return x
	}
	x := new(T)
	p.live[x] = struct{}{}
	return x
}

// Free returns x to the pool. Pointers the pool did not hand out are
// ignored.
func (p *Pool[T]) Free(x *T) {
	if _, ok := p.live[x]; !ok {
		return
	}
	switch p.policy {
	case LRF:
		p.free = append(p.free, x)
	case MRF:
		p.free = append([]*T{x}, p.free...)
	default:
		delete(p.live, x)
	}
}

// Clear forgets every node. It runs between schedules.
func (p *Pool[T]) Clear() {
	clear(p.live)
	p.free = nil
}

// Live returns the number of nodes the pool has handed out and not
// released for good.
func (p *Pool[T]) Live() int { return len(p.live) }

// Recycled returns the number of allocations served from freed nodes since
// the pool was created.
func (p *Pool[T]) Recycled() int { return p.recycled }
