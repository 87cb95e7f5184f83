// Package driver runs enumeration sessions: it drives the operations of a
// harness through every schedule a strategy produces, and hands each finished
// schedule to the detectors.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"v.io/x/lib/vlog"

	"github.com/amirkhaki/lincheck/pkg/detect"
	"github.com/amirkhaki/lincheck/pkg/fiber"
	"github.com/amirkhaki/lincheck/pkg/harness"
	"github.com/amirkhaki/lincheck/pkg/schedule"
)

// ErrDivergence is returned when a schedule names a thread that cannot run,
// or ends while threads are still unfinished. Replaying a trace recorded for
// a different configuration produces it.
var ErrDivergence = errors.New("schedule diverged")

// DetectorSummary is the outcome of one detector.
type DetectorSummary struct {
	// Violations counts flagged schedules.
	Violations int
	// Histories counts distinct flagged histories.
	Histories int
}

// Summary is the outcome of a session.
type Summary struct {
	RunID      string
	Object     string
	Adds       int
	Removes    int
	Delays     int
	Barriers   int
	Schedules  int
	Sequential int

	Counting      DetectorSummary
	Linearization DetectorSummary
	Coverage      detect.CoverageStats

	Elapsed time.Duration
}

// Session is one configured enumeration. It is not safe for concurrent use;
// independent sessions can run in parallel.
type Session struct {
	cfg     Config
	runID   string
	log     *vlog.Logger
	out     io.Writer
	metrics *Metrics

	substrate *fiber.Substrate
	harness   *harness.Harness
	target    harness.Collection
	bus       *Bus

	counting *detect.Counting
	lin      *detect.Linearization
	coverage *detect.Coverage
	recorder *schedule.Recorder
	schedule int
}

// NewSession validates cfg and prepares a session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = vlog.Log
	}

	s := &Session{
		cfg:       cfg,
		runID:     uuid.NewString(),
		log:       cfg.Logger,
		out:       cfg.Out,
		substrate: fiber.NewSubstrate(),
		bus:       &Bus{},
		coverage:  detect.NewCoverage(),
	}
	if cfg.Registerer != nil {
		m, err := NewMetrics(cfg.Registerer)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}

	s.harness = harness.New(s.substrate, cfg.Adds, cfg.Removes)
	s.target = cfg.Target(s.substrate, cfg.Alloc)

	if cfg.Mode.Counts() {
		s.counting = detect.NewCounting(cfg.Adds, cfg.Barriers, cfg.Order, s.harness.Clock(), cfg.Thresholds)
		s.counting.SetVerify(cfg.Mode.Verifies())
		s.bus.RegisterPre(s.counting.Reset)
		s.bus.Listen(s.counting)
	}
	if cfg.Mode.Linearizes() {
		s.lin = detect.NewLinearization()
	}
	s.bus.RegisterDelay(func() { s.metrics.delay(s.cfg.Name) })
	s.bus.RegisterPost(s.finish)
	return s, nil
}

// RunID identifies the session in logs and trace records.
func (s *Session) RunID() string { return s.runID }

// Run precomputes sequential histories when the mode needs them, then
// enumerates every schedule of the configured strategy. Violations are
// reported in the summary, not as errors.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	begin := time.Now()
	s.log.VI(1).Infof("session %s: %s, %d adds, %d removes, mode %s, strategy %s",
		s.runID, s.cfg.Name, s.cfg.Adds, s.cfg.Removes, s.cfg.Mode, s.cfg.Strategy)

	if s.lin != nil {
		if err := s.precompute(ctx); err != nil {
			return nil, err
		}
	}

	strategy, err := s.strategy()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(s.out, "Enumerating schedules w/ %d adds, %d removes, %d delays, %d barriers.\n",
		s.cfg.Adds, s.cfg.Removes, s.cfg.Delays, s.cfg.Barriers)

	start := time.Now()
	s.harness.Use(s.target)
	s.harness.Observe(s.bus)
	n, err := s.enumerate(ctx, strategy, s.bus)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	s.metrics.elapsed(s.cfg.Name, elapsed)
	fmt.Fprintf(s.out, "%d schedules enumerated in %ds.\n", n, int(elapsed.Seconds()))

	sum := s.summary(n)
	s.report(sum)

	if s.recorder != nil {
		if err := s.recorder.RecordTrace(s.cfg.TraceFile); err != nil {
			return nil, err
		}
		s.log.VI(1).Infof("session %s: trace saved to %s", s.runID, s.cfg.TraceFile)
	}
	sum.Elapsed = time.Since(begin)
	return sum, nil
}

// precompute records every sequential history of the reference collection
// by running each permutation of the operations atomically.
func (s *Session) precompute(ctx context.Context) error {
	fmt.Fprint(s.out, "Computing sequential histories... ")
	start := time.Now()

	bus := &Bus{}
	bus.RegisterPost(func() { s.lin.AddSequential(s.harness.Operations()) })
	s.harness.Use(s.cfg.Spec(fiber.Nop, s.cfg.Alloc))
	s.harness.Observe(nil)

	if _, err := s.enumerate(ctx, schedule.NewAtomic(len(s.harness.Fibers())), bus); err != nil {
		return fmt.Errorf("failed to compute sequential histories: %w", err)
	}

	n := s.lin.Sequences()
	s.metrics.histories(s.cfg.Name, n)
	fmt.Fprintf(s.out, "%d histories computed in %ds.\n", n, int(time.Since(start).Seconds()))
	return nil
}

func (s *Session) strategy() (schedule.Strategy, error) {
	threads := s.cfg.Adds + s.cfg.Removes

	var st schedule.Strategy
	switch s.cfg.Strategy {
	case Random:
		st = schedule.NewRandom(threads, s.cfg.Runs, s.cfg.Seed)
	case Replay:
		records, err := schedule.LoadTrace(s.cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		if s.cfg.OnlyViolations {
			records = schedule.Violations(records)
		}
		s.log.VI(1).Infof("session %s: replaying %d schedules from %s", s.runID, len(records), s.cfg.ReplayFile)
		st = schedule.NewReplay(records)
	default:
		st = schedule.NewRoundRobin(threads, s.cfg.Delays)
	}

	if s.cfg.TraceFile != "" {
		s.recorder = schedule.NewRecorder(st, s.runID)
		st = s.recorder
	}
	return st, nil
}

// enumerate runs every schedule of strategy and returns how many ran.
func (s *Session) enumerate(ctx context.Context, strategy schedule.Strategy, bus *Bus) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*fiber.PanicError)
			if !ok {
				panic(r)
			}
			s.abandon()
			err = fmt.Errorf("schedule %d: %w", n, pe)
		}
	}()

	fibers := s.harness.Fibers()
	for strategy.NextSchedule() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		n++
		s.schedule = n
		s.harness.Reset()
		s.harness.Start()
		bus.NotifyPre()

	steps:
		for {
			step := strategy.NextStep()
			switch {
			case step == schedule.Done:
				break steps
			case step == schedule.Delay:
				s.harness.History().Delay()
				bus.NotifyDelay()
			case int(step) < 0 || int(step) >= len(fibers) || fibers[step].State() != fiber.StateSuspended:
				s.drain()
				return n, fmt.Errorf("%w: schedule %d resumes thread %s", ErrDivergence, n, step)
			default:
				switch {
				case s.substrate.Resume(fibers[step]):
					strategy.Completed()
				case fibers[step].Blocked():
					strategy.Blocked()
				}
			}
		}

		if s.drain() {
			return n, fmt.Errorf("%w: schedule %d ended with unfinished threads", ErrDivergence, n)
		}
		bus.NotifyPost()
	}
	return n, nil
}

// drain runs unfinished fibers round-robin until all complete, so they can
// be restarted. It reports whether there was anything to run.
func (s *Session) drain() bool {
	drained := false
	for {
		pending := false
		for _, f := range s.harness.Fibers() {
			if f.State() == fiber.StateSuspended {
				pending, drained = true, true
				s.substrate.Resume(f)
			}
		}
		if !pending {
			return drained
		}
	}
}

// abandon drains the fibers of a schedule that failed, ignoring further
// panics, so that every fiber can be started again.
func (s *Session) abandon() {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*fiber.PanicError); !ok {
				panic(r)
			}
			s.abandon()
		}
	}()
	s.drain()
}

// finish runs the detectors on a finished schedule and prints it.
func (s *Session) finish() {
	hist := s.harness.History()
	var counted, linearized bool

	if s.counting != nil {
		if v, ok := s.counting.Check(); ok {
			hist.Tag(v.String())
			counted = true
			s.metrics.violation(s.cfg.Name, "counting")
		}
	}
	if s.lin != nil {
		if v, ok := s.lin.Check(s.harness.Operations()); ok {
			hist.Tag(v.String())
			linearized = true
			s.metrics.violation(s.cfg.Name, "linearization")
		}
	}

	s.coverage.Observe(hist.Key(), counted, linearized)
	if s.recorder != nil {
		s.recorder.Annotate(hist.Tags()...)
	}
	s.metrics.schedule(s.cfg.Name)

	if s.cfg.Show.shows(counted || linearized) {
		fmt.Fprintf(s.out, "%d. %s\n", s.schedule, s.format(hist))
	}
	if s.cfg.DumpCounters && s.counting != nil {
		if err := s.counting.Dump(s.out); err != nil {
			s.log.Errorf("failed to dump counters: %v", err)
		}
	}
}

const (
	colorTag   = "\x1b[31m"
	colorReset = "\x1b[0m"
)

func (s *Session) format(hist *harness.History) string {
	if !s.cfg.Color {
		return hist.String()
	}
	tokens := hist.Tokens()
	tags := len(hist.Tags())
	out := make([]string, 0, len(tokens))
	out = append(out, tokens[:len(tokens)-tags]...)
	for _, t := range tokens[len(tokens)-tags:] {
		out = append(out, colorTag+t+colorReset)
	}
	return strings.Join(out, " ")
}

func (s *Session) summary(schedules int) *Summary {
	sum := &Summary{
		RunID:     s.runID,
		Object:    s.cfg.Name,
		Adds:      s.cfg.Adds,
		Removes:   s.cfg.Removes,
		Delays:    s.cfg.Delays,
		Barriers:  s.cfg.Barriers,
		Schedules: schedules,
		Coverage:  s.coverage.Stats(),
	}
	if s.counting != nil {
		sum.Counting = DetectorSummary{
			Violations: s.counting.Violations(),
			Histories:  sum.Coverage.CountingHistories,
		}
	}
	if s.lin != nil {
		sum.Sequential = s.lin.Sequences()
		sum.Linearization = DetectorSummary{
			Violations: s.lin.Violations(),
			Histories:  sum.Coverage.LinearizationHistories,
		}
	}
	return sum
}

func (s *Session) report(sum *Summary) {
	if s.cfg.Mode.Verifies() {
		fmt.Fprintf(s.out, "Operation-Counting found %d violations / %d histories.\n",
			sum.Counting.Violations, sum.Counting.Histories)
	}
	if s.lin == nil {
		return
	}
	if s.cfg.Mode != Versus {
		fmt.Fprintf(s.out, "Line-Up found %d violations / %d histories.\n",
			sum.Linearization.Violations, sum.Linearization.Histories)
		return
	}
	fmt.Fprintf(s.out, "Line-Up found %d violations / %d histories; Operation-Counting covers %d.\n",
		sum.Linearization.Violations, sum.Linearization.Histories, sum.Coverage.Covered)
	if fp := sum.Coverage.FalsePositives; fp > 0 {
		s.log.Errorf("Operation-Counting reported %d histories Line-Up accepts", fp)
		fmt.Fprintf(s.out, "Operation-Counting reported %d histories Line-Up accepts.\n", fp)
	}
}
