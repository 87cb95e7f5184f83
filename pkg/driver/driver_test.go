package driver

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/collections"
	"github.com/amirkhaki/lincheck/pkg/fiber"
	"github.com/amirkhaki/lincheck/pkg/harness"
	"github.com/amirkhaki/lincheck/pkg/schedule"
)

func config(t *testing.T, name string, mode Mode) (Config, *bytes.Buffer) {
	t.Helper()
	d, err := collections.Lookup(name)
	require.NoError(t, err)
	ref, err := d.Reference()
	require.NoError(t, err)

	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Name = d.Name
	cfg.Target = d.New
	cfg.Spec = ref.New
	cfg.Order = d.Order
	cfg.Adds, cfg.Removes = 2, 2
	cfg.Delays = 2
	cfg.Barriers = 2
	cfg.Mode = mode
	cfg.Out = &out
	return cfg, &out
}

func run(t *testing.T, cfg Config) *Summary {
	t.Helper()
	s, err := NewSession(cfg)
	require.NoError(t, err)
	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	return sum
}

// scheduleLines returns the numbered schedule lines of out.
func scheduleLines(out string) []string {
	var lines []string
	re := regexp.MustCompile(`^\d+\. `)
	for _, l := range strings.Split(out, "\n") {
		if re.MatchString(l) {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestParseSelectors(t *testing.T) {
	modes := []struct {
		in   string
		want Mode
	}{
		{"counting", Counting},
		{"COUNTING_NO_VERIFY", CountingNoVerify},
		{"lin", Linearizations},
		{"versus", Versus},
		{"none", Nothing},
	}
	for _, tc := range modes {
		got, err := ParseMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := ParseMode("bogus")
	assert.Error(t, err)

	show, err := ParseShow("viol")
	require.NoError(t, err)
	assert.Equal(t, ShowViolations, show)
	_, err = ParseShow("some")
	assert.Error(t, err)

	st, err := ParseStrategy("replay")
	require.NoError(t, err)
	assert.Equal(t, Replay, st)
	_, err = ParseStrategy("dfs")
	assert.Error(t, err)
}

func TestModeDetectors(t *testing.T) {
	assert.True(t, Counting.Counts() && Counting.Verifies() && !Counting.Linearizes())
	assert.True(t, CountingNoVerify.Counts() && !CountingNoVerify.Verifies())
	assert.True(t, Versus.Counts() && Versus.Verifies() && Versus.Linearizes())
	assert.False(t, Nothing.Counts() || Nothing.Linearizes())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = Linearizations
	cfg.Adds, cfg.Removes = 0, 0
	cfg.Barriers = -1
	cfg.Strategy = Replay

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"no data structure selected",
		"needs a reference data structure",
		"at least one operation",
		"barriers must not be negative",
		"needs a trace file",
	} {
		assert.Contains(t, err.Error(), want)
	}

	good, _ := config(t, "ts", Counting)
	assert.NoError(t, good.Validate())

	_, err = NewSession(cfg)
	assert.Error(t, err)
}

func TestBusOrder(t *testing.T) {
	var b Bus
	var got []string
	b.RegisterPre(func() { got = append(got, "pre1") })
	b.RegisterPre(func() { got = append(got, "pre2") })
	b.RegisterDelay(func() { got = append(got, "delay") })
	b.RegisterPost(func() { got = append(got, "post") })

	b.NotifyPre()
	b.NotifyDelay()
	b.NotifyPost()
	assert.Equal(t, []string{"pre1", "pre2", "delay", "post"}, got)
}

func TestBrokenLockStackCounting(t *testing.T) {
	cfg, out := config(t, "bls", Counting)
	sum := run(t, cfg)

	assert.Positive(t, sum.Counting.Violations)
	assert.Positive(t, sum.Counting.Histories)
	assert.LessOrEqual(t, sum.Counting.Histories, sum.Counting.Violations)
	assert.Contains(t, out.String(), "(Rv:2)")
	assert.Contains(t, out.String(), "Enumerating schedules w/ 2 adds, 2 removes, 2 delays, 2 barriers.\n")
	assert.Contains(t, out.String(),
		"Operation-Counting found "+strconv.Itoa(sum.Counting.Violations)+" violations / "+
			strconv.Itoa(sum.Counting.Histories)+" histories.\n")

	m := regexp.MustCompile(`(\d+) schedules enumerated in (\d+)s\.`).FindStringSubmatch(out.String())
	require.NotNil(t, m)
	assert.Equal(t, strconv.Itoa(sum.Schedules), m[1])
	assert.Len(t, scheduleLines(out.String()), sum.Schedules)
}

func TestTreiberStackIsClean(t *testing.T) {
	for _, policy := range []alloc.Policy{alloc.Default, alloc.LRF, alloc.MRF} {
		t.Run(policy.String(), func(t *testing.T) {
			cfg, _ := config(t, "ts", Versus)
			cfg.Alloc = policy
			sum := run(t, cfg)

			assert.Positive(t, sum.Schedules)
			assert.Positive(t, sum.Sequential)
			assert.Zero(t, sum.Counting.Violations)
			assert.Zero(t, sum.Linearization.Violations)
		})
	}
}

func TestTreiberStackBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("enumerates every 3-delay schedule of six operations")
	}
	cfg, _ := config(t, "ts", Counting)
	cfg.Adds, cfg.Removes = 3, 3
	cfg.Delays = 3
	cfg.Show = ShowNone
	sum := run(t, cfg)

	assert.Positive(t, sum.Schedules)
	assert.Zero(t, sum.Counting.Violations)
}

func TestMichaelScottQueueIsClean(t *testing.T) {
	cfg, _ := config(t, "msq", Versus)
	cfg.Adds, cfg.Removes = 2, 1
	sum := run(t, cfg)

	assert.Zero(t, sum.Counting.Violations)
	assert.Zero(t, sum.Linearization.Violations)
}

// TestLockWaitersTerminate runs lock-based collections with delay budgets
// too small to ever preempt a waiter explicitly.
func TestLockWaitersTerminate(t *testing.T) {
	tests := []struct {
		name             string
		adds, removes, k int
	}{
		{"bls", 1, 1, 1},
		{"bls", 2, 2, 0},
		{"tlq", 2, 0, 1},
		{"tlq", 2, 2, 2},
		{"btlq", 2, 2, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, _ := config(t, tc.name, Counting)
			cfg.Adds, cfg.Removes, cfg.Delays = tc.adds, tc.removes, tc.k
			cfg.Show = ShowNone

			done := make(chan *Summary, 1)
			go func() {
				s, err := NewSession(cfg)
				if err != nil {
					done <- nil
					return
				}
				sum, _ := s.Run(context.Background())
				done <- sum
			}()
			select {
			case sum := <-done:
				require.NotNil(t, sum)
				assert.Positive(t, sum.Schedules)
			case <-time.After(30 * time.Second):
				t.Fatalf("%s %d/%d k=%d did not finish", tc.name, tc.adds, tc.removes, tc.k)
			}
		})
	}
}

func TestTwoLockQueueIsClean(t *testing.T) {
	cfg, _ := config(t, "tlq", Versus)
	sum := run(t, cfg)

	assert.Positive(t, sum.Schedules)
	assert.Zero(t, sum.Counting.Violations)
	assert.Zero(t, sum.Linearization.Violations)
}

func TestBuggedTwoLockQueue(t *testing.T) {
	cfg, out := config(t, "btlq", Counting)
	cfg.Show = ShowViolations
	sum := run(t, cfg)

	assert.Positive(t, sum.Counting.Violations)
	assert.Regexp(t, `\((Rv:\d+|Ov:\d+,\d+)\)`, out.String())
	assert.Len(t, scheduleLines(out.String()), sum.Counting.Violations)
}

func TestVersusCountingIsCovered(t *testing.T) {
	cfg, out := config(t, "bls", Versus)
	sum := run(t, cfg)

	assert.Positive(t, sum.Linearization.Violations)
	assert.Zero(t, sum.Coverage.FalsePositives)
	assert.Equal(t, sum.Counting.Histories, sum.Coverage.Covered)
	assert.LessOrEqual(t, sum.Counting.Violations, sum.Linearization.Violations)
	assert.Contains(t, out.String(), "Computing sequential histories... ")
	assert.Contains(t, out.String(), "; Operation-Counting covers "+strconv.Itoa(sum.Coverage.Covered)+".\n")
}

func TestShowFilters(t *testing.T) {
	cfg, out := config(t, "bls", Counting)
	cfg.Show = ShowViolations
	sum := run(t, cfg)
	lines := scheduleLines(out.String())
	assert.Len(t, lines, sum.Counting.Violations)
	for _, l := range lines {
		assert.Contains(t, l, "v")
		assert.True(t, strings.HasSuffix(l, ")"), l)
	}

	cfg, out = config(t, "bls", Counting)
	cfg.Show = ShowWins
	sum = run(t, cfg)
	assert.Len(t, scheduleLines(out.String()), sum.Schedules-sum.Counting.Violations)
	assert.NotContains(t, out.String(), "(Rv:")

	cfg, out = config(t, "bls", Counting)
	cfg.Show = ShowNone
	run(t, cfg)
	assert.Empty(t, scheduleLines(out.String()))
}

func TestColorTags(t *testing.T) {
	cfg, out := config(t, "bls", Counting)
	cfg.Show = ShowViolations
	cfg.Color = true
	run(t, cfg)
	assert.Contains(t, out.String(), colorTag+"(")
}

func TestMetrics(t *testing.T) {
	reg := prom.NewPedanticRegistry()
	cfg, _ := config(t, "bls", Counting)
	cfg.Registerer = reg

	s, err := NewSession(cfg)
	require.NoError(t, err)
	sum, err := s.Run(context.Background())
	require.NoError(t, err)

	m := s.metrics
	assert.Equal(t, float64(sum.Schedules), testutil.ToFloat64(m.schedules.WithLabelValues("bls")))
	assert.Equal(t, float64(sum.Counting.Violations), testutil.ToFloat64(m.violations.WithLabelValues("bls", "counting")))
	assert.Positive(t, testutil.ToFloat64(m.delays.WithLabelValues("bls")))

	again, err := NewMetrics(reg)
	require.NoError(t, err)
	assert.Same(t, m.schedules, again.schedules)

	file := filepath.Join(t.TempDir(), "lincheck.prom")
	require.NoError(t, WriteTextfile(file, reg))
}

func TestTraceReplay(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "trace.jsonl")

	cfg, _ := config(t, "bls", Counting)
	cfg.TraceFile = trace
	s, err := NewSession(cfg)
	require.NoError(t, err)
	first, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Positive(t, first.Counting.Violations)

	records, err := schedule.LoadTrace(trace)
	require.NoError(t, err)
	assert.Len(t, records, first.Schedules)
	assert.Equal(t, s.RunID(), records[0].Run)

	cfg, out := config(t, "bls", Counting)
	cfg.Strategy = Replay
	cfg.ReplayFile = trace
	cfg.OnlyViolations = true
	replayed := run(t, cfg)

	assert.Equal(t, first.Counting.Violations, replayed.Schedules)
	assert.Equal(t, replayed.Schedules, replayed.Counting.Violations)
	assert.Equal(t, first.Counting.Histories, replayed.Counting.Histories)
	assert.Contains(t, out.String(), "(Rv:2)")
}

func TestReplayDivergence(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, schedule.SaveTrace(trace, []schedule.Record{
		{Schedule: 1, Steps: []schedule.Step{7}},
	}))

	cfg, _ := config(t, "ts", Counting)
	cfg.Strategy = Replay
	cfg.ReplayFile = trace
	s, err := NewSession(cfg)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDivergence), err)
}

func TestRandomStrategy(t *testing.T) {
	cfg, _ := config(t, "ts", Counting)
	cfg.Strategy = Random
	cfg.Runs = 25
	cfg.Seed = 7
	sum := run(t, cfg)
	assert.Equal(t, 25, sum.Schedules)
	assert.Zero(t, sum.Counting.Violations)
}

func TestCanceled(t *testing.T) {
	cfg, _ := config(t, "ts", Counting)
	s, err := NewSession(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSequentialHistories(t *testing.T) {
	cfg, _ := config(t, "ts", Linearizations)
	cfg.Adds, cfg.Removes = 1, 1
	cfg.Order = harness.LIFO
	sum := run(t, cfg)

	// Add(1) Rem(1) and Rem(E) Add(1).
	assert.Equal(t, 2, sum.Sequential)
	assert.Zero(t, sum.Linearization.Violations)
}

// faultyStack crashes on every remove.
type faultyStack struct {
	y fiber.Yielder
	n int
}

func (s *faultyStack) Reset()  { s.n = 0 }
func (s *faultyStack) Add(int) { s.y.Yield(); s.n++ }
func (s *faultyStack) Remove() int {
	panic("corrupted")
}

func TestPanicReleasesFibers(t *testing.T) {
	cfg, _ := config(t, "ts", Counting)
	cfg.Adds, cfg.Removes, cfg.Delays = 1, 1, 1
	cfg.Target = func(y fiber.Yielder, _ alloc.Policy) harness.Collection { return &faultyStack{y: y} }
	s, err := NewSession(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.Run(context.Background())
		var pe *fiber.PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "corrupted", pe.Value)
		for _, f := range s.harness.Fibers() {
			assert.Equal(t, fiber.StateCompleted, f.State(), "fiber %d", f.ID())
		}
	}
}
