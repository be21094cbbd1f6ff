// Package ui renders postsync output for terminals and scripts.
package ui

import (
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Color function types for styled output.
var (
	// Success is used for mirrored posts and completed sweeps (green).
	Success = color.New(color.FgGreen).SprintFunc()
	// Error is used for failures (red).
	Error = color.New(color.FgRed).SprintFunc()
	// Warning is used for aborted directions and stopped sweeps (yellow).
	Warning = color.New(color.FgYellow).SprintFunc()
	// Info is used for dry-run plans (cyan).
	Info = color.New(color.FgCyan).SprintFunc()
	// Bold is used for emphasis.
	Bold = color.New(color.Bold).SprintFunc()
	// Dim is used for skipped items and secondary information.
	Dim = color.New(color.Faint).SprintFunc()
	// Header is used for section titles (bold cyan).
	Header = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Status symbols.
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolSkipped = "-"
	SymbolPending = "○"
)

func status(paint func(...any) string, symbol, msg string) string {
	if msg == "" {
		return paint(symbol)
	}
	return paint(symbol) + " " + msg
}

// StatusSuccess returns a green checkmark with optional message.
func StatusSuccess(msg string) string { return status(Success, SymbolSuccess, msg) }

// StatusError returns a red X with optional message.
func StatusError(msg string) string { return status(Error, SymbolError, msg) }

// StatusWarning returns a yellow warning with optional message.
func StatusWarning(msg string) string { return status(Warning, SymbolWarning, msg) }

// StatusSkipped returns a dimmed skip symbol with optional message.
func StatusSkipped(msg string) string { return status(Dim, SymbolSkipped, msg) }

// StatusPending returns a cyan circle with optional message, used for dry runs.
func StatusPending(msg string) string { return status(Info, SymbolPending, msg) }

// DisableColors disables all color output.
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output.
func EnableColors() {
	color.NoColor = false
}

// IsColorEnabled returns whether colors are currently enabled.
func IsColorEnabled() bool {
	return !color.NoColor
}

// ConfigureColors turns colors off when requested, when NO_COLOR is set or
// when out is not a terminal.
func ConfigureColors(noColor bool, out *os.File) {
	if noColor || os.Getenv("NO_COLOR") != "" || out == nil || !IsTerminal(out) {
		DisableColors()
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
