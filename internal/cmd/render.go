package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/shardflow/shardflow/internal/health"
	"github.com/shardflow/shardflow/internal/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	crashedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// colorEnabled reports whether stdout is an interactive terminal. Piped
// output gets plain text so machine consumers never see escape codes.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

func renderStatus(s session.Status) string {
	switch s {
	case session.StatusActive:
		return render(activeStyle, string(s))
	default:
		return render(stoppedStyle, string(s))
	}
}

func renderHealth(s health.State) string {
	switch s {
	case health.StateWorking:
		return render(workingStyle, string(s))
	case health.StateIdle:
		return render(idleStyle, string(s))
	case health.StateCrashed:
		return render(crashedStyle, string(s))
	default:
		return render(unknownStyle, string(s))
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table renders rows with left-aligned padded columns.
func table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(pad(render(headerStyle, h), widths[i]))
		if i < len(headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// pad right-pads a possibly styled cell based on its visible width.
func pad(cell string, width int) string {
	gap := width - lipgloss.Width(cell)
	if gap < 0 {
		gap = 0
	}
	return cell + strings.Repeat(" ", gap)
}

// humanAge renders a timestamp as a compact relative age.
func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
