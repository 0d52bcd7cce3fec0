package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/cache"
)

var (
	watch    bool
	debounce time.Duration
)

func init() {
	scanCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and rescan when the library changes")
	scanCmd.Flags().DurationVar(&debounce, "debounce", cache.DefaultDebounce, "Quiet period before a rescan in --watch mode")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Bring the modifier index up to date with the content library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		logger := sess.Logger()
		out := cmd.OutOrStdout()

		start := time.Now()
		stats, err := sess.Scan(cmd.Context(), func(done, total int, rel string) {
			logger.Info("scanning", "done", done, "total", total, "path", rel)
		})
		printStats(out, stats, time.Since(start))
		if err != nil {
			if !watch {
				return err
			}
			logger.Warn("scan reported errors", "err", err)
		}
		if !watch {
			return nil
		}

		fmt.Fprintln(out, "Watching for changes...")
		return sess.Watch(cmd.Context(),
			cache.WithDebounce(debounce),
			cache.OnScan(func(stats cache.Stats, err error) {
				printStats(out, stats, 0)
				if err != nil {
					logger.Warn("scan reported errors", "err", err)
				}
			}))
	},
}

func printStats(w io.Writer, s cache.Stats, took time.Duration) {
	fmt.Fprintf(w, "%d files: %d parsed, %d unchanged, %d removed, %d failed",
		s.Files, s.Parsed, s.Unchanged, s.Removed, s.Failed)
	if took > 0 {
		fmt.Fprintf(w, " in %v", took.Round(time.Millisecond))
	}
	fmt.Fprintln(w)
}
