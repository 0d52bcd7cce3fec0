package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/export"
	"github.com/agentic-research/dsongraph/internal/resolver"
)

var exportScene string

func init() {
	exportCmd.Flags().StringVar(&exportScene, "scene", "", "Also export the classification of this scene's modifiers")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [output.db]",
	Short: "Write the modifier index to a SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := args[0]
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		if _, err := sess.Scan(cmd.Context(), nil); err != nil {
			sess.Logger().Warn("scan reported errors", "err", err)
		}

		var r *resolver.Resolver
		var res *resolver.Results
		if exportScene != "" {
			a, err := sess.Classify(exportScene)
			if err != nil {
				return err
			}
			r, res = a.Resolver, a.Results
		}

		_ = os.Remove(output) // Overwrite
		start := time.Now()
		if err := export.Write(output, sess.Cache().InfoPerFile(), r, res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d modifiers to %s in %v.\n",
			sess.Cache().NumModifiers(), output, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
