package counting

import (
	"fmt"
	"io"
	"strings"
)

// Histogram counts operations per [method][start][end] where start and end
// are time buckets relative to an offset. Column Bound() of each row holds
// operations that are still pending. The time axis is bounded by the number
// of barriers; older buckets are merged into bucket 0 as the clock advances,
// which keeps memory fixed at the cost of ordering detail about old
// operations.
type Histogram struct {
	methods  int
	barriers int
	bound    int
	counters []int
	offset   int
	last     int
}

// NewHistogram allocates a histogram for methods classes and the given
// number of barriers.
func NewHistogram(methods, barriers int) *Histogram {
	if barriers < 0 {
		barriers = 0
	}
	bound := barriers + 1
	return &Histogram{
		methods:  methods,
		barriers: barriers,
		bound:    bound,
		counters: make([]int, methods*bound*(bound+1)),
	}
}

func (h *Histogram) idx(m, i, j int) int {
	return (m*h.bound+i)*(h.bound+1) + j
}

// Methods returns the number of method classes.
func (h *Histogram) Methods() int { return h.methods }

// Bound returns the number of time buckets; it is also the index of the
// pending column.
func (h *Histogram) Bound() int { return h.bound }

// Cell returns the count of method m started in bucket i and ended in
// bucket j (j == Bound() for pending).
func (h *Histogram) Cell(m, i, j int) int {
	return h.counters[h.idx(m, i, j)]
}

// Offset returns how many buckets have been merged away.
func (h *Histogram) Offset() int { return h.offset }

// Elapsed returns the number of barriers observed within the window.
func (h *Histogram) Elapsed() int { return h.last - h.offset }

// Reset zeroes every cell and rewinds time.
func (h *Histogram) Reset() {
	clear(h.counters)
	h.offset = 0
	h.last = 0
}

// Shift merges bucket 0 into itself and moves every other bucket down by
// one.
func (h *Histogram) Shift() {
	b := h.bound
	for m := 0; m < h.methods; m++ {
		for i := 0; i < b; i++ {
			for j := 0; j < b; j++ {
				if i == 0 && j == 0 {
					continue
				}
				ti, tj := max(i-1, 0), max(j-1, 0)
				h.counters[h.idx(m, ti, tj)] += h.counters[h.idx(m, i, j)]
				h.counters[h.idx(m, i, j)] = 0
			}
		}
		for i := 1; i < b; i++ {
			h.counters[h.idx(m, i-1, b)] += h.counters[h.idx(m, i, b)]
			h.counters[h.idx(m, i, b)] = 0
		}
	}
}

// Advance moves the window forward to now, shifting once for every bucket
// that would fall beyond the last barrier.
func (h *Histogram) Advance(now int) {
	for h.last < now {
		h.last++
		if h.last-h.offset > h.barriers {
			h.Shift()
			h.offset++
		}
	}
}

func (h *Histogram) bucket(t int) int {
	t -= h.offset
	if t < 0 {
		return 0
	}
	if t >= h.bound {
		return h.bound - 1
	}
	return t
}

// Call counts a pending instance of method m started at time start.
func (h *Histogram) Call(now, m, start int) {
	h.Advance(now)
	h.counters[h.idx(m, h.bucket(start), h.bound)]++
}

// Return moves an instance from the pending cell of method pending to the
// cell of method m for the given start and end times.
func (h *Histogram) Return(now, pending, m, start, end int) {
	h.Advance(now)
	i := h.bucket(start)
	h.counters[h.idx(pending, i, h.bound)]--
	h.counters[h.idx(m, i, max(h.bucket(end), i))]++
}

// Total returns the number of instances of method m, pending included.
func (h *Histogram) Total(m int) int {
	n := 0
	for _, c := range h.counters[h.idx(m, 0, 0) : h.idx(m+1, 0, 0)] {
		n += c
	}
	return n
}

// Pending returns the number of instances of method m that have not
// returned.
func (h *Histogram) Pending(m int) int {
	n := 0
	for i := 0; i < h.bound; i++ {
		n += h.counters[h.idx(m, i, h.bound)]
	}
	return n
}

// Span returns the tightest interval covering every instance of method m.
func (h *Histogram) Span(m int) Interval {
	span := Never
	hi := -1
	for i := 0; i < h.bound; i++ {
		if h.counters[h.idx(m, i, h.bound)] > 0 {
			span.Lo = min(span.Lo, i)
			hi = Infinity
		}
		for j := i; j < h.bound; j++ {
			if h.counters[h.idx(m, i, j)] > 0 {
				span.Lo = min(span.Lo, i)
				hi = max(hi, j)
			}
		}
	}
	if span.Exists() {
		span.Hi = hi
	}
	return span
}

// Dump writes a table per method, rows are start buckets and columns end
// buckets with * for pending.
func (h *Histogram) Dump(w io.Writer, name func(int) string) error {
	rule := "--+" + strings.Repeat("--", h.bound+1) + "\n"
	var b strings.Builder
	for m := 0; m < h.methods; m++ {
		label := fmt.Sprintf("M%d", m)
		if name != nil {
			label = name(m)
		}
		b.WriteString(rule)
		fmt.Fprintf(&b, "%s\n", label)
		b.WriteString("  |")
		for j := 0; j < h.bound; j++ {
			fmt.Fprintf(&b, " %d", j)
		}
		b.WriteString(" *\n")
		b.WriteString(rule)
		for i := 0; i < h.bound; i++ {
			fmt.Fprintf(&b, "%d |", i)
			for j := 0; j <= h.bound; j++ {
				if i <= j {
					fmt.Fprintf(&b, " %d", h.counters[h.idx(m, i, j)])
				} else {
					b.WriteString(" .")
				}
			}
			b.WriteString("\n")
		}
	}
	b.WriteString(rule)
	_, err := io.WriteString(w, b.String())
	return err
}
