package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show counts per tier and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		report, err := mgr.Status()
		if err != nil {
			return err
		}
		fmt.Print(renderStatus(report))
		return nil
	},
}

func renderStatus(r *learning.StatusReport) string {
	tiers := newTable("Tier", "Records")
	for _, tier := range models.AllTiers {
		count := strconv.Itoa(r.ByTier[tier])
		if tier == models.TierHot {
			count = fmt.Sprintf("%d / %d", r.ByTier[tier], r.MaxHot)
			if r.ByTier[tier] >= r.MaxHot {
				count = warnStyle.Render(count)
			}
		}
		tiers.Row(string(tier), count)
	}

	statuses := newTable("Status", "Records")
	for _, s := range models.AllStatuses {
		statuses.Row(string(s), strconv.Itoa(r.ByStatus[s]))
	}

	out := tiers.Render() + "\n" + statuses.Render() + "\n"

	if len(r.Quarters) > 0 {
		quarters := newTable("Quarter", "Loose", "Archived", "Compressed")
		for _, q := range r.Quarters {
			compressed := "no"
			if q.Compressed {
				compressed = "yes"
			}
			quarters.Row(q.Quarter.String(), strconv.Itoa(q.Loose), strconv.Itoa(q.Archived), compressed)
		}
		out += quarters.Render() + "\n"
	}

	out += fmt.Sprintf("Backups: %d   Global learnings: %d\n", r.Backups, r.GlobalCount)
	return out
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
}
