// Package cmd implements the dsongraph command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dsongraph/internal/config"
	"github.com/agentic-research/dsongraph/internal/logging"
	"github.com/agentic-research/dsongraph/internal/session"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath  string
	cacheFile   string
	searchPaths []string
	verbosity   int
	quiet       bool
	logFormat   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to an HCL configuration file")
	flags.StringVar(&cacheFile, "cache", "", "Modifier index file (overrides cache_file)")
	flags.StringSliceVarP(&searchPaths, "library", "L", nil, "Content library directory, searched in order (overrides library.search_paths)")
	flags.CountVarP(&verbosity, "verbose", "v", "Log more; repeat for debug")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Log nothing")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides log_format)")
}

var rootCmd = &cobra.Command{
	Use:           "dsongraph",
	Short:         "Index DSON content libraries and analyse the modifiers a scene can use",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("cache") {
		cfg.CacheFile = cacheFile
	}
	if flags.Changed("library") {
		cfg.Library.SearchPaths = searchPaths
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}

// newLogger logs to w. -v and -q win over the configured level.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	level := logging.LevelFromString(cfg.LogLevel)
	if cmd.Flags().Changed("verbose") || quiet {
		level = logging.LevelFromVerbosity(verbosity, quiet)
	}
	return logging.New(w, level, format), nil
}

// openSession loads the configuration and the index. It does not scan.
func openSession(cmd *cobra.Command) (*session.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return session.Open(cfg, logger)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
