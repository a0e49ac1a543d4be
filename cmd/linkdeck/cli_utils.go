package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// normalizeArgs moves flags ahead of positional arguments so
// "accounts export out.json --json" still sees --json.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// CLIOutput prints either human-readable text or JSON.
type CLIOutput struct {
	jsonMode bool
	out      io.Writer
	errOut   io.Writer
}

func NewCLIOutput(jsonMode bool) *CLIOutput {
	return &CLIOutput{jsonMode: jsonMode, out: os.Stdout, errOut: os.Stderr}
}

func (c *CLIOutput) Success(message string, data any) {
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", successStyle.Render(successSymbol), message)
}

func (c *CLIOutput) Error(message, code string) {
	if c.jsonMode {
		c.printJSON(map[string]any{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(c.errOut, "%s %s\n", errorStyle.Render(errorSymbol), message)
}

func (c *CLIOutput) Print(human string, data any) {
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Fprint(c.out, human)
}

func (c *CLIOutput) printJSON(data any) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: failed to format JSON: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(output))
}

const (
	successSymbol = "✓"
	errorSymbol   = "✕"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	stateStyles = map[string]lipgloss.Style{
		"ready":             lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"authenticated":     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"handshake_pending": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"initializing":      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"disconnected":      lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		"disabled":          lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// terminalWidth falls back to 100 columns when stdout is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 100
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// truncate shortens s to max display cells, ending with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return runewidth.Truncate(s, max, "…")
}

// pad right-fills s to width display cells.
func pad(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}

type tableColumn struct {
	title string
	width int
}

// renderTable lays rows out in fixed columns. The last column absorbs
// whatever width remains.
func renderTable(cols []tableColumn, rows [][]string, width int, style func(col int, cell string) string) string {
	used := 0
	for i, c := range cols[:len(cols)-1] {
		used += c.width
		if i > 0 {
			used += 2
		}
	}
	last := width - used - 2
	if last < 8 {
		last = 8
	}
	cols[len(cols)-1].width = last

	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(headerStyle.Render(pad(c.title, c.width)))
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				b.WriteString("  ")
			}
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cell = pad(cell, c.width)
			if style != nil {
				cell = style(i, cell)
			}
			b.WriteString(cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatAge renders how long ago t was, e.g. "3m ago".
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
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
