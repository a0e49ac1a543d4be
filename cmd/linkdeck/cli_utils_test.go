package main

import (
	"flag"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// TestMain points every command at a throwaway data directory.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "linkdeck-cmd-test-")
	if err != nil {
		panic(err)
	}
	os.Setenv("LINKDECK_HOME", home)
	lipgloss.SetColorProfile(termenv.Ascii)

	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

func TestNormalizeArgs(t *testing.T) {
	newFS := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Bool("json", false, "")
		fs.String("listen", "", "")
		return fs
	}
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags first", []string{"--json", "out.json"}, []string{"--json", "out.json"}},
		{"bool flag after positional", []string{"out.json", "--json"}, []string{"--json", "out.json"}},
		{"value flag after positional", []string{"x", "--listen", ":9000"}, []string{"--listen", ":9000", "x"}},
		{"equals form", []string{"x", "--listen=:9000"}, []string{"--listen=:9000", "x"}},
		{"double dash ends flags", []string{"--json", "--", "--not-a-flag"}, []string{"--json", "--not-a-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArgs(newFS(), tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("normalizeArgs(%v) = %v, want %v", tt.args, got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated text", 8, "truncat…"},
		{"anything", 1, "…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}

	wide := truncate("日本語のアカウント", 7)
	if w := runewidth.StringWidth(wide); w > 7 {
		t.Errorf("wide truncate produced %d cells: %q", w, wide)
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	cols := []tableColumn{{title: "ID", width: 6}, {title: "NAME"}}
	out := renderTable(cols, [][]string{
		{"a1", "Work"},
		{"a-very-long-id", "Personal"},
	}, 30, nil)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "a1      Work") {
		t.Errorf("unexpected row layout: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "a-ver…  Personal") {
		t.Errorf("long id not truncated: %q", lines[2])
	}
	for _, l := range lines[1:] {
		if w := runewidth.StringWidth(l); w > 30 {
			t.Errorf("line wider than terminal (%d): %q", w, l)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.t, now); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestDaemonBaseURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8430":         "http://127.0.0.1:8430",
		":9000":                  "http://127.0.0.1:9000",
		"0.0.0.0:8430":           "http://127.0.0.1:8430",
		"http://example.test/":   "http://example.test",
		"https://deck.example:1": "https://deck.example:1",
	}
	for in, want := range tests {
		if got := daemonBaseURL(in); got != want {
			t.Errorf("daemonBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseServeFlags(t *testing.T) {
	opts, err := parseServeFlags([]string{"--listen", ":9000", "--push", "--token=abc"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.listen != ":9000" || !opts.push || opts.token != "abc" || opts.foreground {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := parseServeFlags([]string{"extra"}); err == nil {
		t.Fatal("expected error for positional argument")
	}
}
