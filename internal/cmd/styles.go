package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/livepatch/internal/logging"
)

// Palette used for command output
var (
	colorPrimary   = lipgloss.Color("#A78BFA") // Purple (violet-400)
	colorSecondary = lipgloss.Color("#10B981") // Green
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorError     = lipgloss.Color("#F87171") // Red (red-400)
	colorMuted     = lipgloss.Color("#9CA3AF") // Gray
	colorInfo      = lipgloss.Color("#60A5FA") // Blue
)

// styles renders command output. The zero value renders plain text.
type styles struct {
	ok      lipgloss.Style
	fail    lipgloss.Style
	title   lipgloss.Style
	class   lipgloss.Style
	muted   lipgloss.Style
	debug   lipgloss.Style
	info    lipgloss.Style
	warn    lipgloss.Style
	errored lipgloss.Style
}

// newStyles returns colored styles when color is true and plain ones otherwise.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			ok: plain, fail: plain, title: plain, class: plain, muted: plain,
			debug: plain, info: plain, warn: plain, errored: plain,
		}
	}
	return styles{
		ok:      lipgloss.NewStyle().Foreground(colorSecondary).Bold(true),
		fail:    lipgloss.NewStyle().Foreground(colorError).Bold(true),
		title:   lipgloss.NewStyle().Bold(true),
		class:   lipgloss.NewStyle().Foreground(colorPrimary),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		debug:   lipgloss.NewStyle().Foreground(colorMuted),
		info:    lipgloss.NewStyle().Foreground(colorInfo),
		warn:    lipgloss.NewStyle().Foreground(colorWarning),
		errored: lipgloss.NewStyle().Foreground(colorError).Bold(true),
	}
}

// stylesFor colors output only when w is a terminal.
func stylesFor(w io.Writer) styles {
	return newStyles(isTerminal(w))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// level returns the style for a log level.
func (s styles) level(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return s.debug
	case logging.LevelInfo:
		return s.info
	case logging.LevelWarn:
		return s.warn
	case logging.LevelError:
		return s.errored
	default:
		return s.muted
	}
}
