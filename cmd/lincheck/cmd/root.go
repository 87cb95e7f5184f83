package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"
)

var verbosity int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lincheck",
	Short: "find linearizability violations in concurrent collections",
	Long: `lincheck enumerates delay-bounded schedules of a concurrent collection
and checks every resulting history with operation counting, exact
linearization search, or both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return vlog.Log.Configure(
			vlog.OverridePriorConfiguration(true),
			vlog.LogToStderr(true),
			vlog.Level(verbosity),
		)
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"log verbosity level")
}
