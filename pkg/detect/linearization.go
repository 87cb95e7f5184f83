package detect

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/amirkhaki/lincheck/pkg/harness"
)

// Fingerprint identifies a sequence of operation labels.
type Fingerprint [32]byte

// FingerprintOf hashes a label sequence such as "Add(1) Rem(1) Rem(E)".
func FingerprintOf(labels []string) Fingerprint {
	return sha3.Sum256([]byte(strings.Join(labels, " ")))
}

// Linearization is the exact detector. It holds the sequential histories of
// a reference collection and searches, for every concurrent history, for an
// order of its operations that respects real time and matches one of them.
type Linearization struct {
	histories  map[Fingerprint]struct{}
	prefixes   map[Fingerprint]struct{}
	violations int
}

// NewLinearization returns a detector with no sequential histories.
func NewLinearization() *Linearization {
	return &Linearization{
		histories: make(map[Fingerprint]struct{}),
		prefixes:  make(map[Fingerprint]struct{}),
	}
}

// AddSequential records the history of a sequential execution of ops. Every
// operation must have returned; their order is the order of their calls.
func (l *Linearization) AddSequential(ops []*harness.Operation) {
	sorted := append([]*harness.Operation(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	labels := make([]string, 0, len(sorted))
	for _, op := range sorted {
		labels = append(labels, op.Label())
		l.prefixes[FingerprintOf(labels)] = struct{}{}
	}
	l.histories[FingerprintOf(labels)] = struct{}{}
}

// Sequences returns the number of distinct sequential histories.
func (l *Linearization) Sequences() int { return len(l.histories) }

// Violations returns the number of schedules flagged so far.
func (l *Linearization) Violations() int { return l.violations }

type candidate struct {
	labels    []string
	remaining []*harness.Operation
}

// Linearizable reports whether ops, all returned, can be ordered into one of
// the recorded sequential histories.
//
// The search is breadth-first over prefixes. An operation may come next only
// if it was called no later than the earliest return among the operations
// not yet placed. Operations with equal labels are interchangeable, and the
// one that returned first is always at least as good a choice, so only that
// one is expanded. Prefixes that no sequential history starts with are
// dropped.
func (l *Linearization) Linearizable(ops []*harness.Operation) bool {
	if len(ops) == 0 {
		return true
	}

	work := []candidate{{remaining: ops}}
	for len(work) > 0 {
		c := work[0]
		work = work[1:]

		if len(c.remaining) == 0 {
			if _, ok := l.histories[FingerprintOf(c.labels)]; ok {
				return true
			}
			continue
		}

		earliest := math.MaxInt
		for _, op := range c.remaining {
			earliest = min(earliest, op.End)
		}

		best := make(map[string]int)
		var order []string
		for i, op := range c.remaining {
			if op.Start > earliest {
				continue
			}
			label := op.Label()
			j, seen := best[label]
			if !seen {
				order = append(order, label)
				best[label] = i
				continue
			}
			other := c.remaining[j]
			if op.End < other.End || (op.End == other.End && op.ID < other.ID) {
				best[label] = i
			}
		}

		for _, label := range order {
			i := best[label]
			labels := append(append(make([]string, 0, len(c.labels)+1), c.labels...), label)
			if _, ok := l.prefixes[FingerprintOf(labels)]; !ok {
				continue
			}
			remaining := make([]*harness.Operation, 0, len(c.remaining)-1)
			remaining = append(remaining, c.remaining[:i]...)
			remaining = append(remaining, c.remaining[i+1:]...)
			work = append(work, candidate{labels: labels, remaining: remaining})
		}
	}
	return false
}

// Check flags ops if no linearization exists.
func (l *Linearization) Check(ops []*harness.Operation) (Violation, bool) {
	if l.Linearizable(ops) {
		return Violation{}, false
	}
	l.violations++
	return Violation{Kind: LinearizationViolation}, true
}
