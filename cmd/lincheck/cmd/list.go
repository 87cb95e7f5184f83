package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amirkhaki/lincheck/pkg/collections"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list the data structures that can be checked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tORDER\tREFERENCE\tDESCRIPTION")
		for _, d := range collections.All() {
			ref := d.Spec
			if ref == "" {
				ref = d.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Order, ref, d.Long)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
