package schedule

// Recorder wraps a strategy and records the steps of every schedule it
// produces. It doesn't change the order of anything - just observes.
type Recorder struct {
	inner   Strategy
	run     string
	records []Record
}

// NewRecorder creates a recording wrapper around s. run tags every record.
func NewRecorder(s Strategy, run string) *Recorder {
	return &Recorder{inner: s, run: run}
}

func (r *Recorder) NextSchedule() bool {
	if !r.inner.NextSchedule() {
		return false
	}
	r.records = append(r.records, Record{Run: r.run, Schedule: len(r.records) + 1})
	return true
}

func (r *Recorder) NextStep() Step {
	s := r.inner.NextStep()
	if s != Done {
		rec := &r.records[len(r.records)-1]
		rec.Steps = append(rec.Steps, s)
	}
	return s
}

func (r *Recorder) Completed() {
	r.inner.Completed()
}

func (r *Recorder) Blocked() {
	r.inner.Blocked()
}

// Annotate attaches violation tags to the current record.
func (r *Recorder) Annotate(tags ...string) {
	if len(r.records) == 0 {
		return
	}
	rec := &r.records[len(r.records)-1]
	rec.Violations = append(rec.Violations, tags...)
}

// Records returns everything recorded so far.
func (r *Recorder) Records() []Record {
	return r.records
}

// RecordTrace saves the recorded schedules to filename.
func (r *Recorder) RecordTrace(filename string) error {
	return SaveTrace(filename, r.records)
}
