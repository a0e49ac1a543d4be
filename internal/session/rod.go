package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/asheshgoplani/linkdeck/internal/isolation"
	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/platform"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// ErrNoBrowser is returned when no browser executable can be resolved.
var ErrNoBrowser = errors.New("no browser executable found")

// RodFactory launches one Chrome process per session with the account's
// profile namespace as user data dir.
type RodFactory struct {
	cfg RuntimeConfig

	lookPath func() (string, bool)
	download func() (string, error)
}

// NewRodFactory returns a factory using cfg (unset fields take defaults).
func NewRodFactory(cfg RuntimeConfig) *RodFactory {
	return &RodFactory{
		cfg:      cfg.withDefaults(),
		lookPath: launcher.LookPath,
		download: func() (string, error) { return launcher.NewBrowser().Get() },
	}
}

// Config returns the effective runtime config.
func (f *RodFactory) Config() RuntimeConfig { return f.cfg }

// resolveBin picks the executable for a strategy's resolution mode.
func (f *RodFactory) resolveBin(mode ExecResolution) (string, error) {
	switch mode {
	case ExecBundled:
		bin, err := f.download()
		if err != nil {
			return "", fmt.Errorf("bundled browser: %w", err)
		}
		return bin, nil
	case ExecSystem:
		if f.cfg.ChromeBin != "" {
			return f.cfg.ChromeBin, nil
		}
		if bin, ok := f.lookPath(); ok {
			return bin, nil
		}
		return "", ErrNoBrowser
	default:
		if f.cfg.ChromeBin != "" {
			return f.cfg.ChromeBin, nil
		}
		if bin, ok := f.lookPath(); ok {
			return bin, nil
		}
		bin, err := f.download()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoBrowser, err)
		}
		return bin, nil
	}
}

// buildLauncher applies the strategy's flags on top of the namespace flags.
func buildLauncher(ctx context.Context, bin string, s Strategy, paths isolation.Paths) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Bin(bin).
		Headless(s.Headless).
		UserDataDir(paths.Profile).
		Logger(logging.NewBridgeWriter(logging.CompSession)).
		Set(flags.Flag("disk-cache-dir"), filepath.Join(paths.Credentials, "cache"))
	for _, raw := range s.Args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Create launches the browser process. The page is opened by Initialize.
func (f *RodFactory) Create(ctx context.Context, accountID string, paths isolation.Paths, s Strategy) (Session, error) {
	if accountID == "" || paths.Profile == "" || paths.Credentials == "" {
		return nil, fmt.Errorf("create session: missing account binding")
	}
	bin, err := f.resolveBin(s.Exec)
	if err != nil {
		return nil, err
	}
	if !s.Headless && !platform.HasDisplay() {
		sessionLog.Warn("headful_without_display",
			slog.String("account", accountID),
			slog.String("strategy", s.Name),
			slog.String("platform", platform.Detect().String()))
	}

	lifetime, stop := context.WithCancel(context.Background())
	l := buildLauncher(lifetime, bin, s, paths)

	launched := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-launched:
		}
	}()
	controlURL, err := l.Launch()
	close(launched)
	if err != nil {
		stop()
		return nil, fmt.Errorf("launch browser (%s): %w", s.Name, err)
	}
	if ctx.Err() != nil {
		l.Kill()
		stop()
		return nil, ctx.Err()
	}

	rs := &rodSession{
		id:         uuid.NewString(),
		accountID:  accountID,
		strategy:   s,
		paths:      paths,
		cfg:        f.cfg,
		launch:     l,
		controlURL: controlURL,
		lifetime:   lifetime,
		stop:       stop,
		track:      newTracker(),
	}
	sessionLog.Info("session_launched",
		slog.String("account", accountID),
		slog.String("session", rs.id),
		slog.String("strategy", s.Name),
		slog.Bool("headless", s.Headless),
		slog.Int("pid", l.PID()))

	if s.Mode == ModeDirect {
		return &directSession{rodSession: rs}, nil
	}
	return rs, nil
}

type rodSession struct {
	Emitter

	id         string
	accountID  string
	strategy   Strategy
	paths      isolation.Paths
	cfg        RuntimeConfig
	launch     *launcher.Launcher
	controlURL string

	lifetime context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	released bool
	polling  bool

	// track is only touched by the poll goroutine (or before it starts).
	track *tracker
}

func (s *rodSession) ID() string         { return s.id }
func (s *rodSession) AccountID() string  { return s.accountID }
func (s *rodSession) Strategy() Strategy { return s.strategy }

func (s *rodSession) Initialize(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	s.startPolling()
	return nil
}

// connect attaches to the launched browser, restores saved cookies and
// opens the remote client.
func (s *rodSession) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.mu.Unlock()

	browser := rod.New().ControlURL(s.controlURL).Context(s.lifetime)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("open page: %w", err)
	}

	cookies, err := readCredentials(s.paths.Credentials, s.accountID)
	if err != nil {
		sessionLog.Warn("credentials_unreadable", slog.String("account", s.accountID), slog.String("error", err.Error()))
	} else if len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			sessionLog.Warn("credentials_restore_failed", slog.String("account", s.accountID), slog.String("error", err.Error()))
		}
	}

	if err := page.Context(ctx).Timeout(s.cfg.NavigationTimeout).Navigate(s.cfg.RemoteURL); err != nil {
		_ = browser.Close()
		return fmt.Errorf("navigate %s: %w", s.cfg.RemoteURL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		_ = browser.Close()
		return ErrReleased
	}
	s.browser = browser
	s.page = page
	return nil
}

func (s *rodSession) startPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling || s.released {
		return
	}
	s.polling = true
	go s.pollLoop()
}

func (s *rodSession) currentPage() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *rodSession) pollLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.lifetime.Done():
			return
		case <-ticker.C:
			if !s.pollOnce() {
				return
			}
		}
	}
}

// pollOnce observes the page and emits the resulting signals. It returns
// false once the browser is gone.
func (s *rodSession) pollOnce() bool {
	page := s.currentPage()
	if page == nil {
		return false
	}
	if !s.Alive(s.lifetime) {
		if s.lifetime.Err() == nil {
			s.Emit(Event{Signal: SignalDisconnected, Reason: "browser process gone"})
		}
		return false
	}

	obs := s.observe(page.Context(s.lifetime).Timeout(s.cfg.ActionTimeout))
	events, authed := s.track.apply(obs)
	if authed {
		s.saveCredentials(page)
	}
	for _, ev := range events {
		if ev.Message != nil && ev.Message.Timestamp.IsZero() {
			ev.Message.Timestamp = time.Now()
		}
		s.Emit(ev)
	}
	return true
}

func has(p *rod.Page, selector string) (bool, *rod.Element) {
	if selector == "" {
		return false, nil
	}
	ok, el, err := p.Has(selector)
	if err != nil || !ok {
		return false, nil
	}
	return true, el
}

func (s *rodSession) observe(p *rod.Page) observation {
	sel := s.cfg.Selectors
	var o observation
	if ok, _ := has(p, sel.AuthFailure); ok {
		o.AuthFailure = true
		return o
	}
	if ok, _ := has(p, sel.Ready); ok {
		o.Ready = true
		o.Rows = s.readRows(p)
		return o
	}
	if ok, el := has(p, sel.Code); ok {
		o.Code = elementValue(el, sel.CodeAttr)
	}
	if ok, el := has(p, sel.Loading); ok {
		raw := elementValue(el, "value")
		if pct, ok := parsePercent(raw); ok {
			o.Progress, o.HasProgress = pct, true
		}
	}
	return o
}

// elementValue returns attr when set and present, otherwise the text.
func elementValue(el *rod.Element, attr string) string {
	if attr != "" {
		if v, err := el.Attribute(attr); err == nil && v != nil && *v != "" {
			return *v
		}
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (s *rodSession) readRows(p *rod.Page) []Conversation {
	sel := s.cfg.Selectors
	if sel.ChatRow == "" {
		return nil
	}
	rows, err := p.Elements(sel.ChatRow)
	if err != nil {
		return nil
	}
	out := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		var c Conversation
		if sel.ChatIDAttr != "" {
			if v, err := row.Attribute(sel.ChatIDAttr); err == nil && v != nil {
				c.ID = *v
			}
		}
		if ok, el, _ := row.Has(sel.ChatName); ok {
			c.Name = elementValue(el, "title")
		}
		if ok, el, _ := row.Has(sel.ChatLastMessage); ok {
			c.LastMessage = elementValue(el, "")
		}
		if ok, el, _ := row.Has(sel.ChatUnread); ok {
			c.UnreadCount = parseUnread(elementValue(el, "aria-label"))
		}
		if sel.GroupMarker != "" {
			if ok, _, _ := row.Has(sel.GroupMarker); ok {
				c.IsGroup = true
			}
		}
		if c.ID == "" {
			c.ID = c.Name
		}
		if c.ID == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *rodSession) saveCredentials(page *rod.Page) {
	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		sessionLog.Warn("credentials_snapshot_failed", slog.String("account", s.accountID), slog.String("error", err.Error()))
		return
	}
	if err := writeCredentials(s.paths.Credentials, s.accountID, cookieParams(res.Cookies)); err != nil {
		sessionLog.Warn("credentials_write_failed", slog.String("account", s.accountID), slog.String("error", err.Error()))
		return
	}
	sessionLog.Info("credentials_saved", slog.String("account", s.accountID), slog.Int("cookies", len(res.Cookies)))
}

// Alive probes the browser over CDP. Before the page is connected a
// launched, unreleased process counts as alive.
func (s *rodSession) Alive(ctx context.Context) bool {
	s.mu.Lock()
	browser, released := s.browser, s.released
	s.mu.Unlock()
	if released || s.lifetime.Err() != nil {
		return false
	}
	if browser == nil {
		return true
	}
	_, err := browser.Context(ctx).Version()
	return err == nil
}

func (s *rodSession) readyPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	if s.page == nil {
		return nil, ErrNotConnected
	}
	return s.page, nil
}

func (s *rodSession) SendMessage(ctx context.Context, destination, text string) error {
	page, err := s.readyPage()
	if err != nil {
		return err
	}
	sel := s.cfg.Selectors
	p := page.Context(ctx).Timeout(s.cfg.ActionTimeout)

	search, err := p.Element(sel.SearchBox)
	if err != nil {
		return fmt.Errorf("search box: %w", err)
	}
	if err := search.Input(destination); err != nil {
		return fmt.Errorf("type destination: %w", err)
	}
	if err := p.Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	compose, err := p.Element(sel.ComposeBox)
	if err != nil {
		return fmt.Errorf("compose box: %w", err)
	}
	if err := compose.Input(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := p.Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *rodSession) Conversations(ctx context.Context) ([]Conversation, error) {
	page, err := s.readyPage()
	if err != nil {
		return nil, err
	}
	return s.readRows(page.Context(ctx).Timeout(s.cfg.ActionTimeout)), nil
}

// Release closes the browser and kills the process. Subscribers are dropped
// first so nothing observed during teardown is delivered.
func (s *rodSession) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	browser := s.browser
	s.browser, s.page = nil, nil
	s.mu.Unlock()

	s.Emitter.Close()

	var err error
	if browser != nil {
		if cerr := browser.Context(ctx).Close(); cerr != nil {
			err = fmt.Errorf("close browser: %w", cerr)
		}
	}
	s.launch.Kill()
	s.stop()

	sessionLog.Info("session_released",
		slog.String("account", s.accountID),
		slog.String("session", s.id),
		slog.String("strategy", s.strategy.Name))
	return err
}
