package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/config"
	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/internal/logging"
)

// noState marks commands that never touch the state directory.
const noState = "no-state"

var (
	verbose bool

	appCfg      *config.Config
	projectRoot string
	logger      = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tierlearn",
	Short: "Three-tier learning store",
	Long: `tierlearn keeps the learnings an assistant picks up while working on a
project and decides which of them become durable artifacts.

New learnings land in the Hot tier. Once validated and confirmed they move to
the Warm tier and can be applied as pattern documents, preference entries or
skill trigger rules. Learnings that go unused are demoted to the Cold tier,
which is archived per calendar quarter.

Every apply is backed up first and can be rolled back.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug-level logging")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(updateRulesCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and, for commands that use the state
// directory, the file logger.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[noState] != "" {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	root, err := config.ProjectRoot()
	if err != nil {
		return fmt.Errorf("find project root: %w", err)
	}
	cfg.Resolve(root)
	if verbose {
		cfg.Log.Verbose = true
	}

	appCfg = cfg
	projectRoot = root
	logger = logging.NewForState(cfg.Paths.StateDir, cfg.Log.Verbose)
	logger.Debug("command started",
		zap.String("command", cmd.CommandPath()),
		zap.String("state_dir", cfg.Paths.StateDir),
	)
	return nil
}

// openManager builds the learning manager for one command.
func openManager() (*learning.Manager, error) {
	return learning.NewManager(appCfg, logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
