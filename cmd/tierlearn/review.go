package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/internal/tui"
)

var reviewTUI bool

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List pending learnings with next steps",
	Long: `List the learnings in the Hot tier that still need a decision, with the
command that moves each one forward. Rejected duplicates are not shown.

With --tui, opens an interactive table where records can be validated,
proposed, confirmed and applied in place.`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewTUI, "tui", false, "Interactive review screen")
}

func runReview(cmd *cobra.Command, args []string) error {
	mgr, err := openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if reviewTUI {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		return tui.RunReview(ctx, mgr)
	}

	items, err := mgr.Review()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No pending learnings.")
		return nil
	}

	fmt.Printf("Pending learnings (%d):\n\n", len(items))
	for _, it := range items {
		printReviewItem(it)
	}
	return nil
}

func printReviewItem(it learning.ReviewItem) {
	rec := it.Record
	id := color.New(color.Bold).Sprint(rec.ID)
	fmt.Printf("%s  [%s] %s  freq=%d conf=%.2f prio=%.1f\n",
		id, rec.Type, rec.Status, rec.Frequency, rec.Confidence, rec.Priority)
	fmt.Printf("    %s\n", truncate(rec.Description, 100))
	if it.Hint != "" {
		fmt.Printf("    %s %s\n\n", color.CyanString("next:"), it.Hint)
	}
}
