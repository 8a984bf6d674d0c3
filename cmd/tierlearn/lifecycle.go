package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/learning"
)

var validateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Validate a Hot-tier learning",
	Long: `Check a Hot-tier learning for novelty against the Warm tier and the Global
index, count its detections against the promotion threshold, and check its
type and context. A duplicate is rejected and counted as another sighting of
the learning it duplicates.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var proposeCmd = &cobra.Command{
	Use:   "propose <id>",
	Short: "Mark a validated learning as proposed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		rec, err := mgr.Propose(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("%s proposed; confirm with: tierlearn confirm %s", rec.ID, rec.ID), color.FgGreen)
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a learning and promote it to the Warm tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		rec, moves, err := mgr.Confirm(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("%s confirmed (%s tier)", rec.ID, rec.Tier), color.FgGreen)
		printMoves(moves)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a learning with its scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		rec, tier, sc, err := mgr.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s tier)\n\n%s\n\n", color.New(color.Bold).Sprint(rec.ID), tier, data)
		fmt.Printf("confidence  %.4f  (frequency %.2f, recency %.2f, confirmed %.2f, context %.2f)\n",
			sc.Confidence, sc.FrequencyNorm, sc.RecencyNorm, sc.ConfirmedNorm, sc.ConsistencyNorm)
		fmt.Printf("priority    %.2f\n", sc.Priority)

		bundles, err := mgr.Backups().ForLearning(rec.ID)
		if err != nil {
			return err
		}
		if len(bundles) > 0 {
			fmt.Println("\nbackups:")
			for _, b := range bundles {
				fmt.Printf("  %s  %-12s %s\n", formatTime(b.Timestamp), b.Kind, b.ID)
			}
		}
		return nil
	},
}

func runValidate(cmd *cobra.Command, args []string) error {
	mgr, err := openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	res, err := mgr.Validate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printValidation(res)
	return nil
}

func printValidation(res *learning.ValidationResult) {
	switch res.Outcome {
	case learning.OutcomeValidated:
		printStatus("✓", fmt.Sprintf("%s %s", res.ID, res.Summary()), color.FgGreen)
		fmt.Printf("    next: tierlearn confirm %s  (or apply %s)\n", res.ID, res.ID)
	case learning.OutcomePending:
		printStatus("⚠", fmt.Sprintf("%s %s", res.ID, res.Summary()), color.FgYellow)
	default:
		printStatus("✗", fmt.Sprintf("%s rejected: %s", res.ID, res.Summary()), color.FgRed)
	}
	if len(res.Warnings) > 0 {
		printStatus("⚠", strings.Join(res.Warnings, "; "), color.FgYellow)
	}
}
