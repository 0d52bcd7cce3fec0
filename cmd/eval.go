package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/graph"
)

var evalOpts graph.EvalOptions

func init() {
	flags := evalCmd.Flags()
	flags.BoolVar(&evalOpts.WithoutModifiers, "without-modifiers", false, "Ignore formulas")
	flags.BoolVar(&evalOpts.UseDefaultValues, "defaults", false, "Use asset defaults instead of scene values")
	flags.BoolVar(&evalOpts.SkipConstantValue, "skip-constant", false, "Keep only formula contributions")
	rootCmd.AddCommand(evalCmd)
}

var evalCmd = &cobra.Command{
	Use:     "eval [scene] [property-url]...",
	Short:   "Evaluate scene properties with their formulas applied",
	Example: `  dsongraph eval /scenes/a.duf 'Figure:#Smile?value' 'Figure:#hip?rotation/x'`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		for _, url := range args[1:] {
			v, err := sess.Evaluate(args[0], url, evalOpts)
			if err != nil {
				return fmt.Errorf("%s: %w", url, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\n", url, v)
		}
		return nil
	},
}
