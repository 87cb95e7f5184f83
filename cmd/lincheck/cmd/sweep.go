package cmd

import (
	"bytes"
	"fmt"
	"runtime"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amirkhaki/lincheck/pkg/driver"
)

var sweepOpts options
var parallel int

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep OBJECT",
	Short: "run one session per delay bound up to --delays",
	Long: `sweep runs independent sessions for every delay bound from 0 to --delays,
in parallel, and prints their reports in order of the bound.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, d, err := sweepOpts.config(args[0], cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if base.Strategy != driver.Delays {
			return fmt.Errorf("sweep needs the delays strategy, not %s", base.Strategy)
		}
		if !cmd.Flags().Changed("show") {
			base.Show = driver.ShowNone
		}

		var reg *prom.Registry
		if sweepOpts.metricsFile != "" {
			reg = prom.NewRegistry()
			base.Registerer = reg
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Selected data structure: %s\n", d.Long)
		outs := make([]bytes.Buffer, base.Delays+1)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(parallel, 1))
		for k := range outs {
			cfg := base
			cfg.Delays = k
			cfg.Out = &outs[k]
			cfg.Color = base.Color && sweepOpts.color == "always"
			if base.TraceFile != "" {
				cfg.TraceFile = fmt.Sprintf("%s.%d", base.TraceFile, k)
			}
			g.Go(func() error {
				s, err := driver.NewSession(cfg)
				if err != nil {
					return err
				}
				_, err = s.Run(ctx)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for k := range outs {
			if _, err := outs[k].WriteTo(cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		logUsage()

		if reg != nil {
			return driver.WriteTextfile(sweepOpts.metricsFile, reg)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepOpts.register(sweepCmd.Flags())
	sweepCmd.Flags().IntVarP(&parallel, "parallel", "j", runtime.NumCPU(),
		"sessions run at once")
}
