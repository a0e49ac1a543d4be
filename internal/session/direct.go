package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
)

var errAlreadySignedIn = errors.New("already signed in")

// directSession extracts the pairing code by driving the page itself with
// a selector cascade, then falls back to the regular poll loop.
type directSession struct {
	*rodSession
}

func (d *directSession) Initialize(ctx context.Context) error {
	if err := d.connect(ctx); err != nil {
		return err
	}
	page := d.currentPage()
	if page == nil {
		return ErrReleased
	}

	code, err := d.extractCode(ctx, page)
	switch {
	case err == nil:
		d.track.code = code
		d.startPolling()
		d.Emit(Event{Signal: SignalCodeReady, Code: code})
		return nil
	case errors.Is(err, errAlreadySignedIn):
		d.startPolling()
		return nil
	default:
		d.captureFailure(page)
		// The poll loop may still find the code while the caller's grace
		// window is open.
		d.startPolling()
		return fmt.Errorf("direct code extraction: %w", err)
	}
}

// extractCode tries every candidate selector until one yields a value, the
// page shows the signed-in view, or the attempt budget runs out.
func (d *directSession) extractCode(ctx context.Context, page *rod.Page) (string, error) {
	sel := d.cfg.Selectors
	budget := d.strategy.Timeout / 2
	if budget <= 0 || budget > 30*time.Second {
		budget = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	p := page.Context(ctx)
	for {
		if ok, _ := has(p, sel.Ready); ok {
			return "", errAlreadySignedIn
		}
		for _, candidate := range sel.DirectCode {
			ok, el := has(p, candidate)
			if !ok {
				continue
			}
			if v := elementValue(el, sel.CodeAttr); v != "" {
				sessionLog.Info("direct_code_extracted",
					slog.String("account", d.accountID),
					slog.String("selector", candidate))
				return v, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no code element matched %d selectors: %w", len(sel.DirectCode), ctx.Err())
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// captureFailure saves a screenshot into the profile namespace.
func (d *directSession) captureFailure(page *rod.Page) {
	shotCtx, cancel := context.WithTimeout(d.lifetime, 10*time.Second)
	defer cancel()
	img, err := page.Context(shotCtx).Screenshot(true, nil)
	if err != nil {
		sessionLog.Warn("direct_screenshot_failed", slog.String("account", d.accountID), slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(d.paths.Profile, fmt.Sprintf("handshake-failure-%s.png", time.Now().UTC().Format("20060102T150405")))
	if err := os.WriteFile(path, img, 0o600); err != nil {
		sessionLog.Warn("direct_screenshot_write_failed", slog.String("account", d.accountID), slog.String("error", err.Error()))
		return
	}
	sessionLog.Info("direct_screenshot_saved", slog.String("account", d.accountID), slog.String("path", path))
}
