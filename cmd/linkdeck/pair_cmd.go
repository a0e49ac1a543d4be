package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/clipboard"
	"github.com/asheshgoplani/linkdeck/internal/config"
)

type pairFailure struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Attempts []account.StrategyFailure `json:"attempts,omitempty"`
}

// handlePair asks a running daemon to start the handshake for one account
// and prints the pairing code it returns.
func handlePair(args []string) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	copyCode := fs.Bool("copy", false, "Copy the pairing code to the clipboard")
	addr := fs.String("addr", "", "Daemon address (default: [web] listen_addr)")
	token := fs.String("token", "", "Bearer token (default: [web] token)")
	fs.Usage = func() {
		fmt.Println("Usage: linkdeck pair <account-id> [--copy] [--json]")
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
	if fs.NArg() != 1 {
		out.Error("pair requires exactly one account id", "INVALID_ARGS")
		return 2
	}
	id := fs.Arg(0)

	cfgPath, err := config.Path()
	if err != nil {
		out.Error(err.Error(), "CONFIG_ERROR")
		return 1
	}
	cfg, _ := config.Load(cfgPath)
	base := daemonBaseURL(firstNonEmpty(*addr, cfg.Web.ListenAddr))
	bearer := firstNonEmpty(*token, cfg.Web.Token)

	// The daemon answers once a code is shown or every strategy has failed,
	// which can take minutes; Ctrl-C aborts the request and the handshake.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := requestHandshake(ctx, http.DefaultClient, base, bearer, id)
	if err != nil {
		out.Error(err.Error(), "HANDSHAKE_FAILED")
		return 1
	}

	switch res.Status {
	case account.StatusAlreadyAuthenticated:
		out.Success(fmt.Sprintf("%s is already signed in", id), res)
		return 0
	case account.StatusInitializing:
		out.Success(fmt.Sprintf("%s is restarting its session; retry shortly", id), res)
		return 0
	}

	copied := ""
	if *copyCode && res.Code != "" {
		method, err := clipboard.Copy(res.Code, term.IsTerminal(int(os.Stdout.Fd())))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			copied = string(method)
		}
	}

	human := fmt.Sprintf("%s %s\n%s %s (strategy %s)\n",
		headerStyle.Render("Pairing code:"), res.Code,
		dimStyle.Render("Account:"), id, res.Strategy)
	if copied != "" {
		human += dimStyle.Render(fmt.Sprintf("Copied to clipboard via %s", copied)) + "\n"
	}
	out.Print(human, map[string]any{
		"id":       res.ID,
		"status":   res.Status,
		"code":     res.Code,
		"strategy": res.Strategy,
		"copied":   copied != "",
	})
	return 0
}

func requestHandshake(ctx context.Context, client *http.Client, base, token, id string) (account.HandshakeResult, error) {
	var res account.HandshakeResult
	u := base + "/api/accounts/" + url.PathEscape(id) + "/handshake"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return res, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return res, fmt.Errorf("daemon not reachable at %s: %w", base, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return res, err
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		if err := json.Unmarshal(body, &res); err != nil {
			return res, fmt.Errorf("decode handshake result: %w", err)
		}
		return res, nil
	}

	var fail pairFailure
	if json.Unmarshal(body, &fail) != nil || fail.Error.Message == "" {
		return res, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return res, fmt.Errorf("%s (%s)", fail.Error.Message, fail.Error.Code)
}
