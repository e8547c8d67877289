// Package cliui holds the terminal styling shared by reverie commands.
package cliui

import (
	"fmt"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
)

var (
	green = lipgloss.Color("82")
	red   = lipgloss.Color("196")

	SuccessMark = lipgloss.NewStyle().Foreground(green).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(red).Render("✗")

	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	HeaderStyle = ValueStyle.Bold(true)
	RankStyle   = lipgloss.NewStyle().Foreground(green).Bold(true)
	StepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Mark is SuccessMark for a nil err and FailMark otherwise.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration renders sub-second durations in milliseconds and longer
// ones in tenths of a second.
func FormatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// Fit cuts s to width cells, ending with "…" when something was dropped.
func Fit(s string, width int) string {
	return ansi.Truncate(s, width, "…")
}

// RenderMarkdown renders a summary body for the terminal. The raw content
// comes back with any error.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return content, err
	}
	out, err := r.Render(content)
	if err != nil {
		return content, err
	}
	return out, nil
}
