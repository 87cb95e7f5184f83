package cmd

import (
	"fmt"
	"os"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"

	"github.com/amirkhaki/lincheck/pkg/driver"
)

var runOpts options

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run OBJECT",
	Short: "enumerate schedules of a data structure and check its histories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, d, err := runOpts.config(args[0], out)
		if err != nil {
			return err
		}

		var reg *prom.Registry
		if runOpts.metricsFile != "" {
			reg = prom.NewRegistry()
			cfg.Registerer = reg
		}

		fmt.Fprintf(out, "Selected data structure: %s\n", d.Long)
		s, err := driver.NewSession(cfg)
		if err != nil {
			return err
		}
		if _, err := s.Run(cmd.Context()); err != nil {
			return err
		}
		logUsage()

		if reg != nil {
			return driver.WriteTextfile(runOpts.metricsFile, reg)
		}
		return nil
	},
}

// logUsage logs the resources the process used so far.
func logUsage() {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		vlog.Log.VI(1).Infof("process stats unavailable: %v", err)
		return
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		vlog.Log.VI(1).Infof("memory stats unavailable: %v", err)
		return
	}
	times, err := p.Times()
	if err != nil {
		vlog.Log.VI(1).Infof("cpu stats unavailable: %v", err)
		return
	}
	vlog.Log.VI(1).Infof("rss %d KiB, cpu %.2fs user %.2fs system", mem.RSS>>10, times.User, times.System)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runOpts.register(runCmd.Flags())
}
