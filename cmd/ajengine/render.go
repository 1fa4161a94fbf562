package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

const defaultWidth = 100

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("150"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	thinkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// width returns the terminal width of w, or defaultWidth.
func width(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
			return cols
		}
	}
	return defaultWidth
}

// renderMarkdown renders md with glamour on terminals and wraps plain text
// everywhere else.
func renderMarkdown(w io.Writer, md string) string {
	cols := width(w)
	if !isTerminal(w) {
		return wordwrap.String(strings.TrimSpace(md), cols) + "\n"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(cols-2),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return wordwrap.String(md, cols) + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return wordwrap.String(md, cols) + "\n"
	}
	return out
}

// statusLine formats one settled step.
func statusLine(ok bool, tool, detail string) string {
	mark := okStyle.Render("✓")
	if !ok {
		mark = failStyle.Render("✗")
	}
	line := mark + " " + headerStyle.Render(tool)
	if detail != "" {
		line += " " + dimStyle.Render(detail)
	}
	return line
}
