// Package ui holds the terminal styling helpers for CLI output. Styling is
// applied only when stdout is a TTY, so piped output stays plain.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func render(style lipgloss.Style, s string) string {
	if !isTTY() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights headings and identifiers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success output.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks degraded-but-continuing output.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks failures.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim de-emphasizes detail lines.
func RenderDim(s string) string { return render(dimStyle, s) }
