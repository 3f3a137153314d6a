// Package ui renders the CLI's styled terminal output.
//
// Styles degrade to plain text when stdout is not a terminal or when
// the environment disables color (NO_COLOR, CLICOLOR=0, TERM=dumb).
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

var enabled = detect()

func detect() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Enabled reports whether styles are applied.
func Enabled() bool { return enabled }

// SetEnabled overrides style detection. The CLI's --no-color flag and
// tests go through here.
func SetEnabled(on bool) { enabled = on }

// RenderAccent renders the values the operator came to read: URLs, versions,
// paths.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders a success message.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders a failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted renders secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader renders a section heading.
func RenderHeader(s string) string { return render(headerStyle, s) }

// KeyValue renders an indented "key: value" line with the key muted.
func KeyValue(key string, value any) string {
	return fmt.Sprintf("  %s %v", RenderMuted(key+":"), value)
}

// RenderSeverity renders an audit severity in its conventional color.
func RenderSeverity(s string) string {
	switch s {
	case "CRITICAL", "ERROR":
		return RenderFail(s)
	case "WARNING":
		return RenderWarn(s)
	default:
		return RenderMuted(s)
	}
}

func render(style lipgloss.Style, s string) string {
	if !enabled {
		return s
	}
	return style.Render(s)
}
