// Package ui renders CLI output with consistent colors.
//
// Colors are only emitted when stdout is a terminal and the environment
// supports them (NO_COLOR and dumb terminals get plain text).
package ui

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1E8E3E", Dark: "#5BD17A"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B06000", Dark: "#F2B84B"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C5221F", Dark: "#F28B82"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#9A9A9A"})
	keyStyle    = lipgloss.NewStyle().Bold(true)
)

func init() {
	if !IsTerminal() || termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks something that needs attention but is not an error.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted de-emphasizes secondary details.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderKey renders a setting key.
func RenderKey(s string) string { return keyStyle.Render(s) }

// Table renders rows as aligned "key  value" lines, sorted by key.
func Table(rows map[string]string) string {
	keys := make([]string, 0, len(rows))
	width := 0
	for k := range rows {
		keys = append(keys, k)
		if w := lipgloss.Width(k); w > width {
			width = w
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		pad := strings.Repeat(" ", width-lipgloss.Width(k))
		fmt.Fprintf(&b, "  %s%s  %s\n", RenderKey(k), pad, rows[k])
	}
	return b.String()
}
