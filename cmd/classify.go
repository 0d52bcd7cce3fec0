package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/session"
)

var (
	classifyJSON bool
	classifyScan bool
)

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print the classification as JSON")
	classifyCmd.Flags().BoolVar(&classifyScan, "scan", true, "Update the index before classifying")
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify [scene]",
	Short: "Classify the modifiers that can apply to a scene's figures",
	Long: `Classify every indexed modifier that applies to a figure in the scene.

  used                   nonzero in the scene
  unused                 zero, and nothing stops it being set
  unavailable            held at zero by other modifiers or its own formulas
  available_for_dynamic  zero only because it is configured static

The scene is a library path such as /scenes/a.duf, or an absolute path on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		if classifyScan {
			if _, err := sess.Scan(cmd.Context(), nil); err != nil {
				sess.Logger().Warn("scan reported errors", "err", err)
			}
		}
		a, err := sess.Classify(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if classifyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(a.Summary())
		}
		printSummary(out, a.Summary())
		return nil
	},
}

func printSummary(w io.Writer, s session.Summary) {
	fmt.Fprintf(w, "%s: %s\n", s.Scene, strings.Join(s.Figures, ", "))
	for _, sec := range []struct {
		name string
		urls []string
	}{
		{"used", s.Used},
		{"unused", s.Unused},
		{"unavailable", s.Unavailable},
		{"available for dynamic", s.AvailableForDynamic},
		{"dynamic", s.Dynamic},
		{"favorites", s.Favorites},
	} {
		fmt.Fprintf(w, "\n%s (%d)\n", sec.name, len(sec.urls))
		for _, u := range sec.urls {
			fmt.Fprintf(w, "  %s\n", u)
		}
	}
}
