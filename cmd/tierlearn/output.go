package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func printMoves(moves []learning.Transition) {
	for _, m := range moves {
		msg := fmt.Sprintf("%s: %s -> %s", m.ID, m.From, m.To)
		if m.Reason != "" {
			msg += " (" + m.Reason + ")"
		}
		attr := color.FgCyan
		if m.To == models.TierCold {
			attr = color.FgYellow
		}
		printStatus("→", msg, attr)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
