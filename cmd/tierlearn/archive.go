package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/internal/scheduler"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Run tier transitions and Cold archival",
	Long: `Move learnings between tiers and compress past Cold quarters.

"archive run" performs every step in order and is what the cron entry
printed by "archive cron" invokes.`,
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Promote, demote, enforce capacity, compress and snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, _ *learning.Manager) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			report, err := s.Run(ctx)
			if err != nil {
				return err
			}
			printMoves(report.Promoted)
			printMoves(report.Demoted)
			printMoves(report.Evicted)
			if report.Compressed != nil {
				for _, q := range report.Compressed.Compressed {
					printStatus("✓", "compressed "+q.String(), color.FgGreen)
				}
			}
			if report.Snapshot != "" {
				printStatus("✓", "snapshot "+report.Snapshot, color.FgGreen)
			}
			fmt.Printf("Done in %s.\n", report.Duration.Round(time.Millisecond))
			return nil
		})
	},
}

var archiveHotToWarmCmd = &cobra.Command{
	Use:   "hot2warm",
	Short: "Promote every eligible Hot learning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, _ *learning.Manager) error {
			moves, err := s.HotToWarm(cmd.Context())
			if err != nil {
				return err
			}
			reportMoves(moves)
			return nil
		})
	},
}

var archiveWarmToColdCmd = &cobra.Command{
	Use:   "warm2cold",
	Short: "Demote inactive learnings and enforce Hot capacity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, _ *learning.Manager) error {
			moves, err := s.WarmToCold(cmd.Context())
			if err != nil {
				return err
			}
			evicted, err := s.EnforceCapacity(cmd.Context())
			if err != nil {
				return err
			}
			reportMoves(append(moves, evicted...))
			return nil
		})
	},
}

var archiveCompressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress past Cold quarters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, _ *learning.Manager) error {
			res, err := s.Compress(cmd.Context())
			if err != nil {
				return err
			}
			if len(res.Compressed) == 0 {
				fmt.Println("Nothing to compress.")
			}
			for _, q := range res.Compressed {
				printStatus("✓", "compressed "+q.String(), color.FgGreen)
			}
			for _, q := range res.Skipped {
				printStatus("⚠", "skipped "+q.String(), color.FgYellow)
			}
			return nil
		})
	},
}

var archiveRecallCmd = &cobra.Command{
	Use:   "recall <id>",
	Short: "Bring a Cold learning back to Warm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, _ *learning.Manager) error {
			moves, err := s.Recall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(moves) == 0 {
				printStatus("⚠", args[0]+" is not in the Cold tier", color.FgYellow)
				return nil
			}
			printMoves(moves)
			return nil
		})
	},
}

var archiveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Cold quarters and scheduler counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(s *scheduler.Scheduler, mgr *learning.Manager) error {
			st, err := s.State()
			if err != nil {
				return err
			}
			report, err := mgr.Status()
			if err != nil {
				return err
			}

			quarters := newTable("Quarter", "Loose", "Archived", "Compressed")
			for _, q := range report.Quarters {
				compressed := "no"
				if q.Compressed {
					compressed = "yes"
				}
				quarters.Row(q.Quarter.String(), fmt.Sprint(q.Loose), fmt.Sprint(q.Archived), compressed)
			}
			fmt.Println(quarters.Render())

			fmt.Printf("Promotions: %d  Demotions: %d  Compressions: %d  Recalls: %d\n",
				st.Promotions, st.Demotions, st.Compressions, st.Recalls)
			jobs := make([]string, 0, len(st.LastRun))
			for job := range st.LastRun {
				jobs = append(jobs, job)
			}
			sort.Strings(jobs)
			for _, job := range jobs {
				fmt.Printf("  %-10s last run %s\n", job, formatTime(st.LastRun[job]))
			}
			return nil
		})
	},
}

var archiveCronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Print a crontab entry for the daily run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		fmt.Println(scheduler.CronLine(appCfg.Scheduler.Cron, exe, projectRoot, appCfg.Paths.StateDir))
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveRunCmd)
	archiveCmd.AddCommand(archiveHotToWarmCmd)
	archiveCmd.AddCommand(archiveWarmToColdCmd)
	archiveCmd.AddCommand(archiveCompressCmd)
	archiveCmd.AddCommand(archiveRecallCmd)
	archiveCmd.AddCommand(archiveStatusCmd)
	archiveCmd.AddCommand(archiveCronCmd)
}

// withScheduler opens the manager, wraps it in a scheduler and runs fn.
func withScheduler(fn func(s *scheduler.Scheduler, mgr *learning.Manager) error) error {
	mgr, err := openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	return fn(scheduler.New(mgr, appCfg.Scheduler.MetricsFile, logger), mgr)
}

func reportMoves(moves []learning.Transition) {
	if len(moves) == 0 {
		fmt.Println("No learnings moved.")
		return
	}
	printMoves(moves)
}
