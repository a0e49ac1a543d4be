// Package account owns the account registry and drives each account's
// connection lifecycle: handshake cascade, watchdogs, retries and reconnects.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/linkdeck/internal/clock"
	"github.com/asheshgoplani/linkdeck/internal/errlog"
	"github.com/asheshgoplani/linkdeck/internal/events"
	"github.com/asheshgoplani/linkdeck/internal/handshake"
	"github.com/asheshgoplani/linkdeck/internal/isolation"
	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/retry"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

var acctLog = logging.ForComponent(logging.CompAccount)

const historyLimit = 32

// Config tunes the manager. Zero fields take defaults.
type Config struct {
	MaxAccounts       int
	Cascade           []session.Strategy
	SoftWarning       time.Duration
	HardCritical      time.Duration
	ReconnectDelay    time.Duration
	InitGrace         time.Duration
	MessageBufferSize int
	Retry             retry.Policy
	// AutoConnect starts a handshake on Restore for accounts that already
	// hold credentials.
	AutoConnect bool
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxAccounts:       10,
		Cascade:           session.DefaultCascade(),
		SoftWarning:       30 * time.Second,
		HardCritical:      90 * time.Second,
		ReconnectDelay:    5 * time.Second,
		InitGrace:         3 * time.Second,
		MessageBufferSize: 100,
		Retry:             retry.DefaultPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAccounts <= 0 {
		c.MaxAccounts = d.MaxAccounts
	}
	if len(c.Cascade) == 0 {
		c.Cascade = d.Cascade
	}
	if c.SoftWarning <= 0 {
		c.SoftWarning = d.SoftWarning
	}
	if c.HardCritical <= 0 {
		c.HardCritical = d.HardCritical
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.InitGrace <= 0 {
		c.InitGrace = d.InitGrace
	}
	if c.MessageBufferSize <= 0 {
		c.MessageBufferSize = d.MessageBufferSize
	}
	c.Cascade = slices.Clone(c.Cascade)
	return c
}

// Deps are the manager's collaborators. Factory and Resolver are required.
type Deps struct {
	Factory  session.Factory
	Resolver PathResolver
	Waiter   Waiter
	Store    Store
	Sink     events.Sink
	Clock    clock.Clock
	ErrorLog *errlog.Log
}

type uiState struct {
	selectedConversation string
	messages             map[string][]MessageRecord
	contacts             []ConversationSummary
	unread               int
}

type account struct {
	id           string
	displayName  string
	paths        isolation.Paths
	sortOrder    int
	createdAt    time.Time
	lastAccessed time.Time

	state         State
	authenticated bool
	history       []StateTransition

	sess   session.Session
	detach func()

	handshaking     bool
	handshakeGen    int
	cancelHandshake context.CancelFunc
	codeSeen        bool
	lastCode        string

	softTimer      clock.Timer
	hardTimer      clock.Timer
	reconnectTimer clock.Timer

	ui uiState
}

// Manager is the account registry and lifecycle orchestrator.
type Manager struct {
	factory  session.Factory
	resolver PathResolver
	waiter   Waiter
	store    Store
	router   *events.Router
	clock    clock.Clock
	errors   *errlog.Log
	retry    *retry.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cfg       Config
	accounts  map[string]*account
	activeID  string
	nextOrder int
	closed    bool
}

// NewManager wires a manager. Missing optional deps get in-process defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg = cfg.withDefaults()
	if deps.Waiter == nil {
		deps.Waiter = handshake.NewWaiter()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.ErrorLog == nil {
		deps.ErrorLog = errlog.New(errlog.DefaultCapacity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:  deps.Factory,
		resolver: deps.Resolver,
		waiter:   deps.Waiter,
		store:    deps.Store,
		router:   events.NewRouter(deps.Sink),
		clock:    deps.Clock,
		errors:   deps.ErrorLog,
		retry:    retry.New(cfg.Retry, deps.Clock),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		accounts: make(map[string]*account),
	}
}

// CreateAccount admits a new account, provisions its namespaces and
// persists its durable fields.
func (m *Manager) CreateAccount(ctx context.Context, id, displayName string) (CreateResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return CreateResult{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return CreateResult{}, ErrClosed
	}
	if _, exists := m.accounts[id]; exists {
		return CreateResult{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, id)
	}
	if len(m.accounts) >= m.cfg.MaxAccounts {
		return CreateResult{}, fmt.Errorf("%w (%d)", ErrCapacity, m.cfg.MaxAccounts)
	}

	paths, err := m.resolver.ResolveAndEnsure(id)
	if err != nil {
		return CreateResult{}, fmt.Errorf("provision namespaces for %s: %w", id, err)
	}

	now := m.clock.Now()
	acc := &account{
		id:           id,
		displayName:  displayName,
		paths:        paths,
		sortOrder:    m.nextOrder,
		createdAt:    now,
		lastAccessed: now,
		state:        StateCreated,
		history:      []StateTransition{{To: StateCreated, At: now, Reason: "created"}},
		ui:           uiState{messages: make(map[string][]MessageRecord)},
	}

	if m.store != nil {
		if err := m.store.SaveAccount(ctx, acc.stored()); err != nil {
			return CreateResult{}, fmt.Errorf("persist account %s: %w", id, err)
		}
	}

	m.accounts[id] = acc
	m.nextOrder++
	acctLog.Info("account_created", slog.String("account", id), slog.String("profile", paths.Profile))
	m.router.Notify(id, events.TypeStateChanged, events.LevelInfo, map[string]any{"from": "", "to": string(StateCreated)})

	return CreateResult{ID: id, DisplayName: displayName, Status: string(StateCreated)}, nil
}

func (a *account) stored() StoredAccount {
	return StoredAccount{
		ID:           a.id,
		DisplayName:  a.displayName,
		Paths:        a.paths,
		SortOrder:    a.sortOrder,
		CreatedAt:    a.createdAt,
		LastAccessed: a.lastAccessed,
	}
}

// SwitchActive marks id as the selected account.
func (m *Manager) SwitchActive(ctx context.Context, id string) (AccountView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return AccountView{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.activeID = id
	acc.lastAccessed = m.clock.Now()
	return AccountView{
		ID:              acc.id,
		DisplayName:     acc.displayName,
		IsAuthenticated: acc.authenticated,
		IsActive:        acc.state.Active(),
		UnreadCount:     acc.ui.unread,
		State:           acc.state,
	}, nil
}

// ActiveAccount returns the selected account id, if any.
func (m *Manager) ActiveAccount() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ListAccounts returns every account in creation order.
func (m *Manager) ListAccounts() []AccountSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AccountSummary, 0, len(m.accounts))
	for _, acc := range m.sortedLocked() {
		out = append(out, AccountSummary{
			ID:              acc.id,
			DisplayName:     acc.displayName,
			IsActive:        acc.state.Active(),
			IsAuthenticated: acc.authenticated,
			UnreadCount:     acc.ui.unread,
			OnlineStatus:    acc.state.Presence(),
			LastAccessed:    acc.lastAccessed,
			State:           acc.state,
			Selected:        acc.id == m.activeID,
		})
	}
	return out
}

func (m *Manager) sortedLocked() []*account {
	list := make([]*account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		list = append(list, acc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].sortOrder < list[j].sortOrder })
	return list
}

// StatusSummary counts total, active and authenticated accounts.
func (m *Manager) StatusSummary() StatusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := StatusSummary{Total: len(m.accounts)}
	for _, acc := range m.accounts {
		if acc.state.Active() {
			s.Active++
		}
		if acc.authenticated {
			s.Authenticated++
		}
	}
	return s
}

// State returns the current state of an account.
func (m *Manager) State(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return acc.state, nil
}

// StateHistory returns the recorded transitions of an account, oldest first.
func (m *Manager) StateHistory(id string) ([]StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return slices.Clone(acc.history), nil
}

// Paths returns the isolation namespaces of an account.
func (m *Manager) Paths(id string) (isolation.Paths, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return isolation.Paths{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return acc.paths, nil
}

// RecentErrors returns the recent background errors, newest first.
func (m *Manager) RecentErrors() []errlog.Entry {
	return m.errors.Entries()
}

// RemoveAccount releases the account's session, cancels its timers and
// forgets it. The namespaces on disk are kept.
func (m *Manager) RemoveAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	acc, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.accounts, id)
	if m.activeID == id {
		m.activeID = ""
	}
	sess := m.teardownLocked(acc)
	m.retry.Clear(id)
	m.router.Forget(id)
	var storeErr error
	if m.store != nil {
		storeErr = m.store.DeleteAccount(ctx, id)
	}
	m.mu.Unlock()

	m.release(ctx, id, sess)
	acctLog.Info("account_removed", slog.String("account", id))
	if storeErr != nil {
		return fmt.Errorf("delete persisted account %s: %w", id, storeErr)
	}
	return nil
}

// teardownLocked cancels everything in flight for acc and unbinds its
// session, which the caller must release after unlocking.
func (m *Manager) teardownLocked(acc *account) session.Session {
	if acc.cancelHandshake != nil {
		acc.cancelHandshake()
		acc.cancelHandshake = nil
	}
	stopTimer(&acc.softTimer)
	stopTimer(&acc.hardTimer)
	stopTimer(&acc.reconnectTimer)
	return m.unbindLocked(acc)
}

func (m *Manager) unbindLocked(acc *account) session.Session {
	if acc.detach != nil {
		acc.detach()
		acc.detach = nil
	}
	sess := acc.sess
	acc.sess = nil
	return sess
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// release frees a session outside the lock. Failures are cleanup warnings.
func (m *Manager) release(ctx context.Context, id string, sess session.Session) {
	if sess == nil {
		return
	}
	if err := sess.Release(ctx); err != nil {
		acctLog.Warn("session_release_failed",
			slog.String("account", id),
			slog.String("session", sess.ID()),
			slog.String("error", err.Error()))
	}
}

// setStateLocked records a transition and notifies the sink. Same-state
// transitions are ignored.
func (m *Manager) setStateLocked(acc *account, to State, reason string) {
	from := acc.state
	if from == to {
		return
	}
	acc.state = to
	acc.history = append(acc.history, StateTransition{From: from, To: to, At: m.clock.Now(), Reason: reason})
	if len(acc.history) > historyLimit {
		acc.history = acc.history[len(acc.history)-historyLimit:]
	}
	acctLog.Info("state_change",
		slog.String("account", acc.id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	m.router.Notify(acc.id, events.TypeStateChanged, events.LevelInfo, map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
}

// Restore rebuilds the registry from the store. Accounts beyond the
// admission limit are skipped.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stored, err := m.store.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].SortOrder < stored[j].SortOrder })

	m.mu.Lock()
	var restored []string
	for _, sa := range stored {
		if _, exists := m.accounts[sa.ID]; exists {
			continue
		}
		if len(m.accounts) >= m.cfg.MaxAccounts {
			acctLog.Warn("restore_capacity_skip", slog.String("account", sa.ID), slog.Int("max", m.cfg.MaxAccounts))
			continue
		}
		paths := sa.Paths
		if paths.Credentials == "" || paths.Profile == "" {
			paths, err = m.resolver.ResolveAndEnsure(sa.ID)
		} else {
			err = m.resolver.Ensure(paths)
		}
		if err != nil {
			acctLog.Warn("restore_namespace_failed", slog.String("account", sa.ID), slog.String("error", err.Error()))
			continue
		}
		now := m.clock.Now()
		m.accounts[sa.ID] = &account{
			id:           sa.ID,
			displayName:  sa.DisplayName,
			paths:        paths,
			sortOrder:    sa.SortOrder,
			createdAt:    sa.CreatedAt,
			lastAccessed: sa.LastAccessed,
			state:        StateCreated,
			history:      []StateTransition{{To: StateCreated, At: now, Reason: "restored"}},
			ui:           uiState{messages: make(map[string][]MessageRecord)},
		}
		if sa.SortOrder >= m.nextOrder {
			m.nextOrder = sa.SortOrder + 1
		}
		restored = append(restored, sa.ID)
	}
	autoConnect := m.cfg.AutoConnect
	m.mu.Unlock()

	acctLog.Info("accounts_restored", slog.Int("count", len(restored)))
	if autoConnect {
		for _, id := range restored {
			paths, _ := m.Paths(id)
			if !session.HasCredentials(paths.Credentials) {
				continue
			}
			go func() {
				if _, err := m.BeginHandshake(m.ctx, id); err != nil {
					acctLog.Warn("auto_connect_failed", slog.String("account", id), slog.String("error", err.Error()))
				}
			}()
		}
	}
	return len(restored), nil
}

// ApplySettings swaps in new tunables. Running handshakes keep the cascade
// they started with; the admission limit applies to future creations.
func (m *Manager) ApplySettings(cfg Config) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.retry.SetPolicy(cfg.Retry)
	acctLog.Info("settings_applied",
		slog.Int("max_accounts", cfg.MaxAccounts),
		slog.Int("strategies", len(cfg.Cascade)))
}

// Settings returns the active configuration.
func (m *Manager) Settings() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cfg
	c.Cascade = slices.Clone(c.Cascade)
	return c
}

// Shutdown cancels every timer and pending retry and releases all sessions
// concurrently. Release failures are logged; shutdown always completes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()

	type owned struct {
		id   string
		sess session.Session
	}
	var live []owned
	touched := make(map[string]time.Time, len(m.accounts))
	for _, acc := range m.accounts {
		if sess := m.teardownLocked(acc); sess != nil {
			live = append(live, owned{acc.id, sess})
		}
		touched[acc.id] = acc.lastAccessed
	}
	m.mu.Unlock()

	m.retry.CancelAll()

	var g errgroup.Group
	for _, o := range live {
		g.Go(func() error {
			m.release(ctx, o.id, o.sess)
			return nil
		})
	}
	_ = g.Wait()

	if m.store != nil && len(touched) > 0 {
		if err := m.store.TouchAccounts(ctx, touched); err != nil {
			acctLog.Warn("shutdown_touch_failed", slog.String("error", err.Error()))
		}
	}
	acctLog.Info("manager_shutdown", slog.Int("released", len(live)))
	return nil
}
