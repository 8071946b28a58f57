package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorRed    = lipgloss.Color("#f38ba8")
	colorBlue   = lipgloss.Color("#74c7ec")
	colorMuted  = lipgloss.Color("#a6adc8")

	titleStyle  = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	goodStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	badStyle    = lipgloss.NewStyle().Foreground(colorRed)
)

const ruleWidth = 60

// isTTY reports whether stdin is an interactive terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("─", ruleWidth)))
}

// levelStyle colours a percentage: green above 50, yellow above 20, red below.
func levelStyle(pct float64) lipgloss.Style {
	switch {
	case pct > 50:
		return goodStyle
	case pct > 20:
		return warnStyle
	default:
		return badStyle
	}
}

// percentBar draws a width-cell bar for pct, clamped to 0..100.
func percentBar(pct float64, width int) string {
	clamped := pct
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}
	filled := int(clamped / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s] %.1f%%", levelStyle(pct).Render(bar), pct)
}

// formatMinutes renders a duration in minutes as "2h 5m".
func formatMinutes(m int64) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf(format, *v)
}

func optInt(v *int64, format string) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf(format, *v)
}

func optTime(t *time.Time, layout string) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(layout)
}

// truncate shortens s to n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
