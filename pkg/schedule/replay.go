package schedule

// Replay re-executes recorded schedules step for step.
type Replay struct {
	records []Record
	idx     int
	pos     int
}

// NewReplay creates a strategy replaying records in order.
func NewReplay(records []Record) *Replay {
	return &Replay{records: records, idx: -1}
}

// LoadReplay reads a trace file and returns a strategy replaying it.
func LoadReplay(filename string) (*Replay, error) {
	records, err := LoadTrace(filename)
	if err != nil {
		return nil, err
	}
	return NewReplay(records), nil
}

func (r *Replay) NextSchedule() bool {
	if r.idx+1 >= len(r.records) {
		return false
	}
	r.idx++
	r.pos = 0
	return true
}

func (r *Replay) NextStep() Step {
	steps := r.records[r.idx].Steps
	if r.pos >= len(steps) {
		return Done
	}
	s := steps[r.pos]
	r.pos++
	return s
}

// Completed does nothing; completions are implied by the recorded steps.
func (r *Replay) Completed() {}

// Blocked does nothing; the recorded steps already moved past it.
func (r *Replay) Blocked() {}

// Current returns the record being replayed.
func (r *Replay) Current() Record {
	return r.records[r.idx]
}
