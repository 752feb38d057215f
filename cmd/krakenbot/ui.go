package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/strategy"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	reportStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2)

	buyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	sellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// renderReport boxes a multi-line result under a title
func renderReport(title, body string) string {
	return titleStyle.Render(title) + "\n" + reportStyle.Render(body)
}

func renderDecision(d strategy.Decision) string {
	switch {
	case !d.IsTrade():
		return mutedStyle.Render(d.String())
	case d.Action == strategy.Buy:
		return buyStyle.Render(d.String())
	default:
		return sellStyle.Render(d.String())
	}
}

func renderHistory(records []ledger.TradeRecord) string {
	if len(records) == 0 {
		return mutedStyle.Render("No trades recorded")
	}
	var sb strings.Builder
	for i, r := range records {
		line := fmt.Sprintf("%s = %s", r.String(), r.Notional().StringFixed(2))
		if r.Side == ledger.Buy {
			line = buyStyle.Render(line)
		} else {
			line = sellStyle.Render(line)
		}
		fmt.Fprintf(&sb, "%3d  %s", i+1, line)
		if i < len(records)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
