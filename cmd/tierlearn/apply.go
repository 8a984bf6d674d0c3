package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	restoreYes       bool
	gcDryRun         bool
	gcYes            bool
	historyChanges   int
	historyRollbacks int
)

var applyCmd = &cobra.Command{
	Use:   "apply <id>",
	Short: "Write a learning's artifacts",
	Long: `Apply a learning: write its pattern document, preference entry or skill
trigger rule. A pending learning is validated first, and applying counts as
confirmation. Every file the apply touches is backed up beforehand; if the
backup fails nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		res, err := mgr.Apply(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if res.AlreadyApplied {
			printStatus("⚠", fmt.Sprintf("%s is already applied", args[0]), color.FgYellow)
			return nil
		}
		printMoves(res.Moves)
		for _, f := range res.Files {
			printStatus("✓", "wrote "+f, color.FgGreen)
		}
		fmt.Printf("    backup: %s\n", res.Manifest.ID)
		fmt.Printf("    undo with: tierlearn rollback %s\n", args[0])
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Undo the most recent apply of a learning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		res, err := mgr.Rollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("%s rolled back (%s)", args[0], res.RollbackType), color.FgGreen)
		for _, f := range res.Files {
			fmt.Printf("    %s\n", f)
		}
		if res.PreRollback != nil {
			fmt.Printf("    previous content saved in backup %s\n", res.PreRollback.ID)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent changes and rollbacks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		changes, rollbacks, err := mgr.History(historyChanges, historyRollbacks)
		if err != nil {
			return err
		}

		fmt.Println(color.New(color.Bold).Sprint("Changes"))
		if len(changes) == 0 {
			fmt.Println("  (none)")
		}
		for _, c := range changes {
			mark := " "
			if c.RolledBack {
				mark = color.YellowString("↺")
			}
			fmt.Printf("  %s %s  %-20s %s\n", mark, formatTime(c.Timestamp), c.LearningID, truncate(c.Description, 70))
		}

		fmt.Println()
		fmt.Println(color.New(color.Bold).Sprint("Rollbacks"))
		if len(rollbacks) == 0 {
			fmt.Println("  (none)")
		}
		for _, r := range rollbacks {
			fmt.Printf("    %s  %-20s %s\n", formatTime(r.Timestamp), r.LearningID, r.RollbackType)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore the files captured by a backup",
	Long: `Restore every file captured in a backup bundle. The current content is
backed up first. Asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		manifest, err := mgr.Backups().Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Backup %s (%s, %s) for %s:\n", manifest.ID, manifest.Kind, formatTime(manifest.Timestamp), manifest.LearningID)
		for _, f := range manifest.Files {
			state := "restore"
			if !f.Existed {
				state = "remove"
			}
			fmt.Printf("    %-8s %s\n", state, f.Name)
		}

		if !restoreYes && !confirm(cmd.InOrStdin(), "Restore these files?") {
			fmt.Println("Aborted.")
			return nil
		}

		res, err := mgr.Restore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("restored %d file(s); previous content in backup %s", len(res.Manifest.Files), res.PreRestore.ID), color.FgGreen)
		if res.RolledBack {
			printStatus("↺", manifest.LearningID+" marked rolled back", color.FgYellow)
		}
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old backups",
	Long: `Delete backup bundles older than backup.retention_days, bundles beyond the
newest backup.max_backups, and bundles left incomplete by an interrupted run.
Asks for confirmation unless --yes is given; --dry-run only lists them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		cands, err := mgr.GCCandidates()
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			fmt.Println("Nothing to collect.")
			return nil
		}
		for _, c := range cands {
			fmt.Printf("    %-11s %s  %s\n", c.Reason, formatTime(c.Timestamp), c.ID)
		}
		if gcDryRun {
			fmt.Printf("%d backup(s) would be deleted.\n", len(cands))
			return nil
		}
		if !gcYes && !confirm(cmd.InOrStdin(), fmt.Sprintf("Delete %d backup(s)?", len(cands))) {
			fmt.Println("Aborted.")
			return nil
		}
		n, err := mgr.GC(cands)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("deleted %d backup(s)", n), color.FgGreen)
		return nil
	},
}

var updateRulesCmd = &cobra.Command{
	Use:   "update-rules <skill> <keywords...>",
	Short: "Add trigger keywords to a skill",
	Long: `Add trigger keywords to a skill in skill-rules.json. Keywords may be given
as separate arguments or comma-separated. The rules file is backed up first.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		var keywords []string
		for _, a := range args[1:] {
			for _, k := range strings.Split(a, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keywords = append(keywords, k)
				}
			}
		}
		change, err := mgr.UpdateRules(cmd.Context(), args[0], keywords)
		if err != nil {
			return err
		}
		printStatus("✓", change.Description, color.FgGreen)
		return nil
	},
}

func init() {
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Do not ask for confirmation")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "List what would be deleted")
	gcCmd.Flags().BoolVarP(&gcYes, "yes", "y", false, "Do not ask for confirmation")
	historyCmd.Flags().IntVar(&historyChanges, "changes", 20, "Number of changes to show")
	historyCmd.Flags().IntVar(&historyRollbacks, "rollbacks", 10, "Number of rollbacks to show")
}

// confirm asks a yes/no question on in.
func confirm(in io.Reader, question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
