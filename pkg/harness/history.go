package harness

import "strings"

// DelayToken marks a delay in a history.
const DelayToken = "*"

// History is the token buffer of one schedule: call and return tokens, delay
// markers, and violation tags, in the order they happened.
type History struct {
	tokens []string
	events []string
	tags   []string
}

// Call appends the call token of op.
func (h *History) Call(op *Operation) {
	t := op.CallToken()
	h.tokens = append(h.tokens, t)
	h.events = append(h.events, t)
}

// Return appends the return token of op.
func (h *History) Return(op *Operation) {
	t := op.ReturnToken()
	h.tokens = append(h.tokens, t)
	h.events = append(h.events, t)
}

// Delay appends a delay marker.
func (h *History) Delay() {
	h.tokens = append(h.tokens, DelayToken)
}

// Tag appends a violation tag such as "(Rv:2)".
func (h *History) Tag(tag string) {
	h.tokens = append(h.tokens, tag)
	h.tags = append(h.tags, tag)
}

// Tags returns the tags appended since the last reset.
func (h *History) Tags() []string {
	return h.tags
}

// Tokens returns every token in order.
func (h *History) Tokens() []string {
	return h.tokens
}

// Key identifies the observed history: its call and return events without
// delay markers or tags. Two schedules with equal keys produced the same
// history.
func (h *History) Key() string {
	return strings.Join(h.events, " ")
}

func (h *History) String() string {
	return strings.Join(h.tokens, " ")
}

// Reset empties the buffer.
func (h *History) Reset() {
	h.tokens = h.tokens[:0]
	h.events = h.events[:0]
	h.tags = h.tags[:0]
}
