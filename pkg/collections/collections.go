// Package collections holds the concurrent collections that can be checked,
// each written against a fiber.Yielder so that every shared access is a
// potential preemption point.
package collections

import (
	"errors"
	"fmt"
	"sort"

	"github.com/amirkhaki/lincheck/pkg/fiber"
	"github.com/amirkhaki/lincheck/pkg/harness"
)

// ErrUnknown is returned for a name that is not registered.
var ErrUnknown = errors.New("unknown data structure")

// Descriptor describes a registered collection.
type Descriptor struct {
	Name  string
	Long  string
	Order harness.Order
	// Spec names the collection whose sequential behavior is the reference.
	Spec string
	New  harness.Factory
}

var registry = map[string]Descriptor{}

func register(d Descriptor) {
	if _, dup := registry[d.Name]; dup {
		panic("collections: duplicate registration of " + d.Name)
	}
	registry[d.Name] = d
}

// Lookup returns the collection registered as name.
func Lookup(name string) (Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return d, nil
}

// Reference returns the descriptor of d's reference collection.
func (d Descriptor) Reference() (Descriptor, error) {
	if d.Spec == "" {
		return d, nil
	}
	return Lookup(d.Spec)
}

// All returns every registered collection ordered by name.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// spinlock is a test-and-set lock. A racy lock yields between the test and
// the set, so two fibers can both acquire it. Waiters block rather than
// yield, so the scheduler hands the turn to the holder.
type spinlock struct {
	y    fiber.Yielder
	held bool
	racy bool
}

func (l *spinlock) lock() {
	for l.held {
		fiber.Block(l.y)
	}
	if l.racy {
		l.y.Yield()
	}
	l.held = true
}

func (l *spinlock) unlock() {
	l.held = false
}

type node struct {
	value int
	next  *node
}
