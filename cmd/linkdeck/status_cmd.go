package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/config"
)

type statusReport struct {
	Daemon   string                   `json:"daemon"`
	Summary  account.StatusSummary    `json:"summary"`
	Accounts []account.AccountSummary `json:"accounts"`
}

func handleStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	addr := fs.String("addr", "", "Daemon address (default: [web] listen_addr)")
	token := fs.String("token", "", "Bearer token (default: [web] token)")
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	out := NewCLIOutput(*jsonOutput)

	cfgPath, err := config.Path()
	if err != nil {
		out.Error(err.Error(), "CONFIG_ERROR")
		return 1
	}
	cfg, _ := config.Load(cfgPath)
	base := daemonBaseURL(firstNonEmpty(*addr, cfg.Web.ListenAddr))
	bearer := firstNonEmpty(*token, cfg.Web.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := &http.Client{Timeout: 5 * time.Second}

	var report statusReport
	report.Daemon = base
	if err := getJSON(ctx, client, base+"/api/status", bearer, &report.Summary); err != nil {
		out.Error(fmt.Sprintf("daemon not reachable at %s: %v", base, err), "DAEMON_UNREACHABLE")
		return 1
	}
	var list struct {
		Accounts []account.AccountSummary `json:"accounts"`
	}
	if err := getJSON(ctx, client, base+"/api/accounts", bearer, &list); err != nil {
		out.Error(fmt.Sprintf("list accounts: %v", err), "DAEMON_ERROR")
		return 1
	}
	report.Accounts = list.Accounts

	out.Print(renderStatus(report, time.Now(), terminalWidth()), report)
	return 0
}

func daemonBaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	return "http://" + addr
}

func getJSON(ctx context.Context, client *http.Client, url, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func renderStatus(r statusReport, now time.Time, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("Daemon:"), r.Daemon)
	fmt.Fprintf(&b, "%s %d total, %d active, %d authenticated\n\n",
		headerStyle.Render("Accounts:"), r.Summary.Total, r.Summary.Active, r.Summary.Authenticated)
	if len(r.Accounts) == 0 {
		b.WriteString(dimStyle.Render("No accounts registered.") + "\n")
		return b.String()
	}

	cols := []tableColumn{
		{title: "", width: 1},
		{title: "ID", width: 16},
		{title: "STATE", width: 17},
		{title: "UNREAD", width: 6},
		{title: "LAST USED", width: 10},
		{title: "NAME"},
	}
	rows := make([][]string, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		marker := ""
		if a.Selected {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			a.ID,
			string(a.State),
			fmt.Sprintf("%d", a.UnreadCount),
			formatAge(a.LastAccessed, now),
			a.DisplayName,
		})
	}
	b.WriteString(renderTable(cols, rows, width, func(col int, cell string) string {
		if col != 2 {
			return cell
		}
		if st, ok := stateStyles[strings.TrimSpace(cell)]; ok {
			return st.Render(cell)
		}
		return cell
	}))
	return b.String()
}

// firstNonEmpty returns the first non-blank value, trimmed.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
