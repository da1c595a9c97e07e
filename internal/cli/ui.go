package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	exhaustedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	leaderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorize renders value with style when w is a terminal and NO_COLOR is
// unset.
func colorize(w io.Writer, style lipgloss.Style, value string) string {
	if value == "" || os.Getenv("NO_COLOR") != "" || !isTerminal(w) {
		return value
	}
	return style.Render(value)
}
