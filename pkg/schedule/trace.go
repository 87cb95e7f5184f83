package schedule

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"
)

// Record is one schedule as a sequence of steps.
type Record struct {
	Run        string   `json:"run,omitempty"`
	Schedule   int      `json:"schedule"`
	Steps      []Step   `json:"steps"`
	Violations []string `json:"violations,omitempty"`
}

// Violating reports whether any detector flagged the schedule.
func (r Record) Violating() bool {
	return len(r.Violations) > 0
}

// maxLine bounds a single trace line; long enumerations record long step lists.
const maxLine = 16 << 20

// LoadTrace reads a trace from a JSON-lines file.
func LoadTrace(filename string) ([]Record, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var trace []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var r Record
		if err := sonnet.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("failed to decode record on line %d: %w", line, err)
		}
		trace = append(trace, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	return trace, nil
}

// SaveTrace writes a trace to a JSON-lines file.
func SaveTrace(filename string, trace []Record) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close trace file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for _, r := range trace {
		b, err := sonnet.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	return nil
}

// Violations filters trace down to the records some detector flagged.
func Violations(trace []Record) []Record {
	var out []Record
	for _, r := range trace {
		if r.Violating() {
			out = append(out, r)
		}
	}
	return out
}
