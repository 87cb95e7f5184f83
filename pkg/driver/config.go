package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"v.io/x/lib/vlog"

	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/detect"
	"github.com/amirkhaki/lincheck/pkg/harness"
)

// Mode selects the detectors that run after every schedule.
type Mode uint8

const (
	Nothing Mode = iota
	Counting
	CountingNoVerify
	Linearizations
	Versus
)

func (m Mode) String() string {
	switch m {
	case Nothing:
		return "nothing"
	case Counting:
		return "counting"
	case CountingNoVerify:
		return "counting-no-verify"
	case Linearizations:
		return "linearizations"
	case Versus:
		return "versus"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name. Underscores and dashes are interchangeable.
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "_", "-") {
	case "nothing", "none":
		return Nothing, nil
	case "counting":
		return Counting, nil
	case "counting-no-verify", "no-verify":
		return CountingNoVerify, nil
	case "linearizations", "linearization", "lin", "line-up", "lineup":
		return Linearizations, nil
	case "versus", "vs":
		return Versus, nil
	}
	return Nothing, fmt.Errorf("invalid mode %q", s)
}

// Counts reports whether the counting detector runs.
func (m Mode) Counts() bool {
	return m == Counting || m == CountingNoVerify || m == Versus
}

// Verifies reports whether counting results are checked.
func (m Mode) Verifies() bool {
	return m == Counting || m == Versus
}

// Linearizes reports whether the exact detector runs.
func (m Mode) Linearizes() bool {
	return m == Linearizations || m == Versus
}

// Show selects which schedules are printed.
type Show uint8

const (
	ShowNone Show = iota
	// ShowWins prints schedules no detector flagged.
	ShowWins
	// ShowViolations prints schedules some detector flagged.
	ShowViolations
	ShowAll
)

func (s Show) String() string {
	switch s {
	case ShowNone:
		return "none"
	case ShowWins:
		return "wins"
	case ShowViolations:
		return "violations"
	default:
		return "all"
	}
}

// ParseShow parses a history display setting.
func ParseShow(s string) (Show, error) {
	switch strings.ToLower(s) {
	case "none":
		return ShowNone, nil
	case "wins", "win":
		return ShowWins, nil
	case "violations", "viol":
		return ShowViolations, nil
	case "all", "":
		return ShowAll, nil
	}
	return ShowAll, fmt.Errorf("invalid show setting %q", s)
}

func (s Show) shows(flagged bool) bool {
	switch s {
	case ShowAll:
		return true
	case ShowWins:
		return !flagged
	case ShowViolations:
		return flagged
	default:
		return false
	}
}

// StrategyKind selects how schedules are produced.
type StrategyKind uint8

const (
	// Delays enumerates round-robin schedules with a bounded number of delays.
	Delays StrategyKind = iota
	// Random runs seeded random interleavings.
	Random
	// Replay re-runs schedules from a trace file.
	Replay
)

func (k StrategyKind) String() string {
	switch k {
	case Random:
		return "random"
	case Replay:
		return "replay"
	default:
		return "delays"
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (StrategyKind, error) {
	switch strings.ToLower(s) {
	case "", "delays", "round-robin", "rr":
		return Delays, nil
	case "random":
		return Random, nil
	case "replay":
		return Replay, nil
	}
	return Delays, fmt.Errorf("invalid strategy %q", s)
}

// Config configures one enumeration session.
type Config struct {
	// Name labels output and metrics.
	Name string
	// Target builds the collection under test.
	Target harness.Factory
	// Spec builds the reference collection used for sequential histories.
	Spec harness.Factory

	Adds    int
	Removes int

	Mode       Mode
	Alloc      alloc.Policy
	Order      harness.Order
	Barriers   int
	Delays     int
	Show       Show
	Thresholds detect.Thresholds

	Strategy StrategyKind
	Seed     int64
	Runs     int
	// ReplayFile is the trace replayed by the Replay strategy.
	ReplayFile string
	// OnlyViolations replays only the flagged schedules of ReplayFile.
	OnlyViolations bool
	// TraceFile, when set, receives every schedule that ran.
	TraceFile string

	DumpCounters bool
	Color        bool

	Out        io.Writer
	Logger     *vlog.Logger
	Registerer prometheus.Registerer
}

// DefaultConfig returns the defaults of the command line.
func DefaultConfig() Config {
	return Config{
		Adds:       1,
		Removes:    1,
		Mode:       Counting,
		Show:       ShowAll,
		Thresholds: detect.DefaultThresholds(),
		Runs:       100,
		Out:        os.Stdout,
		Logger:     vlog.Log,
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.Target == nil {
		errs = append(errs, errors.New("no data structure selected"))
	}
	if c.Mode.Linearizes() && c.Spec == nil {
		errs = append(errs, fmt.Errorf("mode %s needs a reference data structure", c.Mode))
	}
	if c.Adds < 0 || c.Removes < 0 {
		errs = append(errs, fmt.Errorf("operation counts must not be negative: %d adds, %d removes", c.Adds, c.Removes))
	}
	if c.Adds+c.Removes == 0 {
		errs = append(errs, errors.New("at least one operation is required"))
	}
	if c.Barriers < 0 {
		errs = append(errs, fmt.Errorf("barriers must not be negative: %d", c.Barriers))
	}
	if c.Delays < 0 {
		errs = append(errs, fmt.Errorf("delays must not be negative: %d", c.Delays))
	}
	if c.Thresholds.Order < 0 || c.Thresholds.Empty < 0 {
		errs = append(errs, fmt.Errorf("barrier thresholds must not be negative: %+v", c.Thresholds))
	}
	switch c.Strategy {
	case Random:
		if c.Runs <= 0 {
			errs = append(errs, fmt.Errorf("random strategy needs a positive number of runs: %d", c.Runs))
		}
	case Replay:
		if c.ReplayFile == "" {
			errs = append(errs, errors.New("replay strategy needs a trace file"))
		}
	}
	return errors.Join(errs...)
}
