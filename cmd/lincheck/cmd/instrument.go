package cmd

import (
	"errors"
	"fmt"
	"go/token"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"

	"github.com/amirkhaki/lincheck/pkg/instrument"
)

// instrumentCmd represents the instrument command
var instrumentCmd = &cobra.Command{
	Use:   "instrument",
	Short: "insert yields before shared accesses of collection sources",
	Long: `instrument rewrites the methods of every type declaring the yield field
so that each statement touching shared memory first yields. The output is
written next to each input, with the postfix added to the file name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(inputs) == 0 {
			return nil
		}
		cfg := instrument.DefaultConfig()
		cfg.YieldField = yieldField
		cfg.YieldMethod = yieldMethod
		instr := instrument.NewInstrumenter(cfg)
		fset := token.NewFileSet()

		files, err := instr.InstrumentFiles(fset, inputs)
		if err != nil {
			return err
		}
		vlog.Log.VI(1).Infof("instrument: %d yields added to %d files", instr.Yields(), len(files))

		var jerr error
		for i := range inputs {
			f, s := files[i], inputs[i]
			dir, filename := filepath.Split(s)
			ext := filepath.Ext(filename)
			filename = filename[:len(filename)-len(ext)] + postfix + ext
			output := dir + filename
			if _, err := os.Stat(output); err == nil && !force {
				jerr = errors.Join(jerr, fmt.Errorf("%s exists, use --force to overwrite", output))
				continue
			}
			file, err := os.Create(output)
			if err != nil {
				jerr = errors.Join(jerr, err)
				continue
			}
			jerr = errors.Join(jerr, instrument.WriteInstrumented(file, fset, f), file.Close())
		}
		return jerr
	},
}

var inputs []string
var postfix string
var force bool
var yieldField, yieldMethod string

func init() {
	rootCmd.AddCommand(instrumentCmd)

	instrumentCmd.Flags().StringArrayVarP(&inputs, "input", "i",
		[]string{}, "path of input files")
	instrumentCmd.Flags().StringVarP(&postfix, "postfix", "p", "_lincheck",
		"postfix of generated files (alongside input files)")
	instrumentCmd.Flags().BoolVarP(&force, "force", "f", false,
		"force override files")
	instrumentCmd.Flags().StringVar(&yieldField, "yield-field", "y",
		"struct field holding the yielder")
	instrumentCmd.Flags().StringVar(&yieldMethod, "yield-method", "Yield",
		"method called on the yield field")
}
