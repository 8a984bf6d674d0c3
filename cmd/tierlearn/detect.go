package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/learning"
)

var detectWatch bool

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Ingest newly captured learnings",
	Long: `Read the submission files the capture step dropped into the incoming
directory (<state>/incoming/*.json) and submit each learning to the Hot tier.
A repeat detection raises the frequency of the known record instead of
creating a new one.

Processed files move to incoming/processed; unreadable ones to incoming/failed.
With --watch, keeps running and ingests files as they appear.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().BoolVarP(&detectWatch, "watch", "w", false, "Keep watching the incoming directory")
}

func runDetect(cmd *cobra.Command, args []string) error {
	mgr, err := openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if detectWatch {
		fmt.Printf("Watching %s (Ctrl+C to stop)\n", mgr.IncomingDir())
		return mgr.Watch(ctx, printDetectResult)
	}

	res, err := mgr.Detect(ctx)
	if err != nil {
		return err
	}
	if res.Files == 0 {
		fmt.Println("No new submissions.")
		return nil
	}
	printDetectResult(res)
	return nil
}

func printDetectResult(res *learning.DetectResult) {
	printStatus("✓", fmt.Sprintf("%d file(s): %d new, %d repeat detection(s)", res.Files, res.Submitted, res.Duplicates), color.FgGreen)
	if res.Failed > 0 {
		printStatus("✗", fmt.Sprintf("%d submission(s) failed", res.Failed), color.FgRed)
		for _, p := range res.Problems {
			fmt.Printf("    %s\n", p)
		}
	}
	printMoves(res.Demoted)
}
