package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render
	faint     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}).Render
	warning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Render
	header    = lipgloss.NewStyle().Bold(true).Render
)

// isTerminal reports whether stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

// setupStyles drops colors when output is piped.
func setupStyles() {
	if !isTerminal() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// terminalWidth returns the usable output width, capped at 120 columns.
func terminalWidth() int {
	if !isTerminal() {
		return 80
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
	if err != nil || w <= 0 {
		return 80
	}
	return min(w, 120)
}
