package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/mcpserver"
)

var serveScan bool

func init() {
	serveCmd.Flags().BoolVar(&serveScan, "scan", true, "Update the index before serving")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index and scene analysis as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		if serveScan {
			if _, err := sess.Scan(cmd.Context(), nil); err != nil {
				sess.Logger().Warn("scan reported errors", "err", err)
			}
		}
		sess.Logger().Info("serving MCP on stdio", "version", Version)
		return mcpserver.New(sess, Version).ServeStdio()
	},
}
