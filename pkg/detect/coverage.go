package detect

// Coverage deduplicates observed histories and compares the verdicts of the
// two detectors on them.
type Coverage struct {
	verdicts map[string]verdict
}

type verdict struct {
	counting, linearization bool
}

// CoverageStats summarizes distinct histories.
type CoverageStats struct {
	Histories              int
	CountingHistories      int
	LinearizationHistories int
	// Covered counts histories flagged by both detectors.
	Covered int
	// FalsePositives counts histories flagged by counting only.
	FalsePositives int
}

// NewCoverage returns an empty tracker.
func NewCoverage() *Coverage {
	return &Coverage{verdicts: make(map[string]verdict)}
}

// Observe records the verdicts for the history identified by key.
func (c *Coverage) Observe(key string, counting, linearization bool) {
	v := c.verdicts[key]
	v.counting = v.counting || counting
	v.linearization = v.linearization || linearization
	c.verdicts[key] = v
}

// Stats computes the summary over everything observed.
func (c *Coverage) Stats() CoverageStats {
	s := CoverageStats{Histories: len(c.verdicts)}
	for _, v := range c.verdicts {
		if v.counting {
			s.CountingHistories++
		}
		if v.linearization {
			s.LinearizationHistories++
		}
		switch {
		case v.counting && v.linearization:
			s.Covered++
		case v.counting:
			s.FalsePositives++
		}
	}
	return s
}
