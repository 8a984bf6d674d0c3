// Package tui provides the interactive review screen for tierlearn.
//
// The screen lists Hot-tier learnings in a table with their status,
// detection count and confidence. Keys act on the highlighted record:
//   - v validates it
//   - p proposes it for confirmation
//   - c confirms it, promoting it to the Warm tier
//   - a applies it, writing its artifacts
//
// Actions run as commands off the UI goroutine; the table reloads after
// each one. Quit with q, Esc or Ctrl+C.
//
// Usage:
//
//	if err := tui.RunReview(ctx, manager); err != nil {
//	    return err
//	}
package tui
