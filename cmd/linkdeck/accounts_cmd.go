package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/config"
	"github.com/asheshgoplani/linkdeck/internal/statedb"
)

const stateFileName = "state.db"

// openState opens and migrates the state database under the data directory.
func openState() (*statedb.StateDB, string, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data dir: %w", err)
	}
	db, err := statedb.Open(filepath.Join(dir, stateFileName))
	if err != nil {
		return nil, "", err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, dir, nil
}

type accountListEntry struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	SortOrder    int       `json:"sortOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	Profile      string    `json:"profile"`
}

func handleAccounts(args []string) int {
	sub := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("accounts "+sub, flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: linkdeck accounts [list|export <file>|import <file>] [--json]")
		fmt.Println()
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	out := NewCLIOutput(*jsonOutput)

	db, _, err := openState()
	if err != nil {
		out.Error(fmt.Sprintf("open state: %v", err), "STATE_UNAVAILABLE")
		return 1
	}
	defer db.Close()

	ctx := context.Background()
	switch sub {
	case "list", "ls":
		rows, err := db.LoadAccounts(ctx)
		if err != nil {
			out.Error(fmt.Sprintf("load accounts: %v", err), "STATE_UNAVAILABLE")
			return 1
		}
		entries := make([]accountListEntry, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, accountListEntry{
				ID:           r.ID,
				DisplayName:  r.DisplayName,
				SortOrder:    r.SortOrder,
				CreatedAt:    r.CreatedAt,
				LastAccessed: r.LastAccessed,
				Profile:      r.ProfileNS,
			})
		}
		out.Print(renderAccountList(entries, time.Now(), terminalWidth()), entries)
		return 0

	case "export", "import":
		if fs.NArg() != 1 {
			out.Error(fmt.Sprintf("accounts %s requires exactly one file argument", sub), "INVALID_ARGS")
			return 2
		}
		path := fs.Arg(0)
		var n int
		if sub == "export" {
			n, err = statedb.ExportAccountsJSON(ctx, db, path)
		} else {
			n, err = statedb.ImportAccountsJSON(ctx, path, db)
		}
		if err != nil {
			out.Error(fmt.Sprintf("%s accounts: %v", sub, err), "IO_ERROR")
			return 1
		}
		verb := "Exported"
		if sub == "import" {
			verb = "Imported"
		}
		out.Success(fmt.Sprintf("%s %d account(s) (%s)", verb, n, path), map[string]any{
			"success": true,
			"count":   n,
			"path":    path,
		})
		return 0

	default:
		out.Error(fmt.Sprintf("unknown accounts subcommand %q", sub), "INVALID_ARGS")
		return 2
	}
}

func renderAccountList(entries []accountListEntry, now time.Time, width int) string {
	if len(entries) == 0 {
		return dimStyle.Render("No accounts stored.") + "\n"
	}
	cols := []tableColumn{
		{title: "ID", width: 16},
		{title: "NAME", width: 20},
		{title: "LAST USED", width: 10},
		{title: "PROFILE"},
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.ID, e.DisplayName, formatAge(e.LastAccessed, now), e.Profile})
	}
	return renderTable(cols, rows, width, nil)
}
