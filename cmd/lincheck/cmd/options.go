package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"v.io/x/lib/vlog"

	"github.com/amirkhaki/lincheck/pkg/alloc"
	"github.com/amirkhaki/lincheck/pkg/collections"
	"github.com/amirkhaki/lincheck/pkg/detect"
	"github.com/amirkhaki/lincheck/pkg/driver"
)

// options are the session flags shared by run and sweep.
type options struct {
	adds, removes  int
	barriers       int
	delays         int
	mode           string
	alloc          string
	show           string
	strategy       string
	seed           int64
	runs           int
	trace          string
	replay         string
	onlyViolations bool
	metricsFile    string
	orderBarriers  int
	emptyBarriers  int
	dumpCounters   bool
	color          string
}

func envDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (o *options) register(fs *pflag.FlagSet) {
	th := detect.DefaultThresholds()

	fs.IntVarP(&o.adds, "adds", "a", 1, "number of add operations")
	fs.IntVarP(&o.removes, "removes", "r", 1, "number of remove operations")
	fs.IntVarP(&o.barriers, "barriers", "b", 1, "barriers tracked by the counters")
	fs.IntVarP(&o.delays, "delays", "d", 0, "delay bound")
	fs.StringVarP(&o.mode, "mode", "m", envDefault("LINCHECK_MODE", "counting"),
		"detectors: nothing, counting, counting-no-verify, lin, versus")
	fs.StringVar(&o.alloc, "alloc", envDefault("LINCHECK_ALLOC", "default"),
		"node allocation: default, lrf, mrf")
	fs.StringVarP(&o.show, "show", "s", envDefault("LINCHECK_SHOW", "all"),
		"schedules to print: none, wins, violations, all")
	fs.StringVar(&o.strategy, "strategy", "delays", "schedule strategy: delays, random, replay")
	fs.Int64Var(&o.seed, "seed", 1, "seed of the random strategy")
	fs.IntVar(&o.runs, "runs", 100, "schedules run by the random strategy")
	fs.StringVar(&o.trace, "trace", "", "record every schedule to this file")
	fs.StringVar(&o.replay, "replay", "", "trace file replayed by the replay strategy")
	fs.BoolVar(&o.onlyViolations, "only-violations", false, "replay only flagged schedules")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "write prometheus metrics to this file")
	fs.IntVar(&o.orderBarriers, "order-barriers", th.Order, "barriers needed before order checks")
	fs.IntVar(&o.emptyBarriers, "empty-barriers", th.Empty, "barriers needed before empty checks")
	fs.BoolVar(&o.dumpCounters, "dump-counters", false, "print the counters after every schedule")
	fs.StringVar(&o.color, "color", "auto", "color violation tags: auto, always, never")
}

// config builds the session configuration for the collection called name.
func (o *options) config(name string, out io.Writer) (driver.Config, collections.Descriptor, error) {
	d, err := collections.Lookup(name)
	if err != nil {
		return driver.Config{}, d, err
	}
	ref, err := d.Reference()
	if err != nil {
		return driver.Config{}, d, fmt.Errorf("reference of %s: %w", name, err)
	}

	cfg := driver.DefaultConfig()
	cfg.Name = d.Name
	cfg.Target = d.New
	cfg.Spec = ref.New
	cfg.Order = d.Order
	cfg.Adds, cfg.Removes = o.adds, o.removes
	cfg.Barriers = o.barriers
	cfg.Delays = o.delays
	cfg.Seed = o.seed
	cfg.Runs = o.runs
	cfg.TraceFile = o.trace
	cfg.ReplayFile = o.replay
	cfg.OnlyViolations = o.onlyViolations
	cfg.DumpCounters = o.dumpCounters
	cfg.Thresholds = detect.Thresholds{Order: o.orderBarriers, Empty: o.emptyBarriers}
	cfg.Out = out
	cfg.Logger = vlog.Log

	if cfg.Mode, err = driver.ParseMode(o.mode); err != nil {
		return cfg, d, err
	}
	if cfg.Alloc, err = alloc.ParsePolicy(o.alloc); err != nil {
		return cfg, d, err
	}
	if cfg.Show, err = driver.ParseShow(o.show); err != nil {
		return cfg, d, err
	}
	if cfg.Strategy, err = driver.ParseStrategy(o.strategy); err != nil {
		return cfg, d, err
	}
	if o.replay != "" && o.strategy == "delays" {
		cfg.Strategy = driver.Replay
	}
	if cfg.Color, err = colorize(o.color, out); err != nil {
		return cfg, d, err
	}
	return cfg, d, cfg.Validate()
}

func colorize(setting string, out io.Writer) (bool, error) {
	switch setting {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, fmt.Errorf("invalid color setting %q", setting)
}
