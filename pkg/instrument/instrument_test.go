package instrument_test

import (
	"bytes"
	"go/parser"
	"go/printer"
	"go/token"
	"strings"
	"testing"

	"github.com/amirkhaki/lincheck/pkg/instrument"
)

const stackSrc = `package stack

type yielder interface{ Yield() }

type node struct {
	value int
	next  *node
}

type Stack struct {
	y   yielder
	top *node
	n   int
}

func (s *Stack) Push(v int) {
	n := &node{value: v}
	n.next = s.top
	s.top = n
	s.n++
}

func (s *Stack) Pop() int {
	t := s.top
	if t == nil {
		return -1
	}
	s.top = t.next
	return t.value
}

func top(s *Stack) *node {
	return s.top
}
`

func instrumentSource(t *testing.T, instr *instrument.Instrumenter, src string) string {
	t.Helper()
	fset := token.NewFileSet()
	f, err := instr.InstrumentFile(fset, "test.go", src)
	if err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, f); err != nil {
		t.Fatalf("Failed to print AST: %v", err)
	}
	return buf.String()
}

// lineBefore returns the trimmed line preceding the first line containing
// needle.
func lineBefore(t *testing.T, result, needle string) string {
	t.Helper()
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		if strings.Contains(line, needle) && i > 0 {
			return strings.TrimSpace(lines[i-1])
		}
	}
	t.Fatalf("%q not found in:\n%s", needle, result)
	return ""
}

func TestInstrumentFile(t *testing.T) {
	instr := instrument.NewInstrumenter(nil)
	result := instrumentSource(t, instr, stackSrc)

	if !instr.WasInstrumented() {
		t.Fatal("Expected instrumentation")
	}
	if got := strings.Count(result, "s.y.Yield()"); got != 6 {
		t.Errorf("Expected 6 yields, got %d:\n%s", got, result)
	}
	if instr.Yields() != 6 {
		t.Errorf("Yields() = %d, want 6", instr.Yields())
	}

	for _, stmt := range []string{"n.next = s.top", "s.top = n", "s.n++", "t := s.top", "s.top = t.next", "return t.value"} {
		if prev := lineBefore(t, result, stmt); prev != "s.y.Yield()" {
			t.Errorf("Expected yield before %q, got %q", stmt, prev)
		}
	}

	// Private accesses stay untouched.
	for _, stmt := range []string{"n := &node{value: v}", "if t == nil {", "return -1"} {
		if prev := lineBefore(t, result, stmt); prev == "s.y.Yield()" {
			t.Errorf("Unexpected yield before %q", stmt)
		}
	}

	// Plain functions are not methods of a yielding type.
	if prev := lineBefore(t, result, "return s.top"); prev == "s.y.Yield()" {
		t.Error("Function without receiver should not be instrumented")
	}
}

func TestNoConsecutiveYields(t *testing.T) {
	src := `package stack

type yielder interface{ Yield() }

type Stack struct {
	y   yielder
	top *int
}

func (s *Stack) Peek() int {
	s.y.Yield()
	return *s.top
}
`
	instr := instrument.NewInstrumenter(nil)
	result := instrumentSource(t, instr, src)

	if got := strings.Count(result, "s.y.Yield()"); got != 1 {
		t.Errorf("Expected the existing yield only, got %d:\n%s", got, result)
	}
	if instr.Yields() != 0 {
		t.Errorf("Yields() = %d, want 0", instr.Yields())
	}
}

func TestLoweredLoop(t *testing.T) {
	src := `package stack

type yielder interface{ Yield() }

type node struct{ next *node }

type Stack struct {
	y   yielder
	top *node
}

func (s *Stack) Len() int {
	c := 0
	for t := s.top; t != nil; t = t.next {
		c++
	}
	return c
}
`
	instr := instrument.NewInstrumenter(nil)
	result := instrumentSource(t, instr, src)

	if prev := lineBefore(t, result, "t := s.top"); prev != "s.y.Yield()" {
		t.Errorf("Expected yield before loop init, got %q", prev)
	}
	if prev := lineBefore(t, result, "t = t.next"); prev != "s.y.Yield()" {
		t.Errorf("Expected yield before loop post, got %q", prev)
	}
	if instr.Yields() != 2 {
		t.Errorf("Yields() = %d, want 2:\n%s", instr.Yields(), result)
	}
}

func TestLoopConditionYields(t *testing.T) {
	src := `package lock

type yielder interface{ Yield() }

type Lock struct {
	y    yielder
	held bool
}

func (l *Lock) Lock() {
	for l.held {
	}
	l.held = true
}
`
	instr := instrument.NewInstrumenter(nil)
	result := instrumentSource(t, instr, src)

	// One before the loop, one closing the body, one before the set.
	if got := strings.Count(result, "l.y.Yield()"); got != 3 {
		t.Errorf("Expected 3 yields, got %d:\n%s", got, result)
	}
}

func TestCustomConfig(t *testing.T) {
	src := `package stack

type yielder interface{ Pause() }

type Stack struct {
	sched yielder
	top   *int
}

func (s *Stack) Clear() {
	s.top = nil
}
`
	config := &instrument.Config{
		YieldField:     "sched",
		YieldMethod:    "Pause",
		ImportRewrites: map[string]string{},
	}
	instr := instrument.NewInstrumenter(config)
	result := instrumentSource(t, instr, src)

	if !strings.Contains(result, "s.sched.Pause()") {
		t.Errorf("Expected custom yield call:\n%s", result)
	}
}

func TestInstrumentFiles(t *testing.T) {
	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()
	files, err := instr.InstrumentFiles(fset, []string{
		"../../testdata/stack.go",
		"../../testdata/queue.go",
	})
	if err != nil {
		t.Fatalf("InstrumentFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if !instr.WasInstrumented() {
		t.Fatal("Expected instrumentation")
	}

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, files[0]); err != nil {
		t.Fatalf("Failed to print AST: %v", err)
	}
	result := buf.String()

	// The lock spins with a yield per test and yields between test and set.
	if prev := lineBefore(t, result, "s.held = true"); prev != "s.y.Yield()" {
		t.Errorf("Expected yield before lock set, got %q", prev)
	}
	if prev := lineBefore(t, result, "s.top = n"); prev != "s.y.Yield()" {
		t.Errorf("Expected yield before push, got %q", prev)
	}

	buf.Reset()
	if err := printer.Fprint(&buf, fset, files[1]); err != nil {
		t.Fatalf("Failed to print AST: %v", err)
	}
	if !strings.Contains(buf.String(), "q.y.Yield()") {
		t.Errorf("Expected queue yields:\n%s", buf.String())
	}
}

func TestWriteInstrumented(t *testing.T) {
	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()
	f, err := instr.InstrumentFile(fset, "test.go", stackSrc)
	if err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}

	var buf bytes.Buffer
	if err := instrument.WriteInstrumented(&buf, fset, f); err != nil {
		t.Fatalf("WriteInstrumented failed: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "package stack\n") {
		t.Errorf("output is not Go source:\n%s", out)
	}
	if !strings.Contains(out, "s.y.Yield()") {
		t.Errorf("output lacks yields:\n%s", out)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "out.go", out, 0); err != nil {
		t.Errorf("output does not parse: %v", err)
	}
}
