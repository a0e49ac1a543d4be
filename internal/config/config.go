// Package config loads the linkdeck user configuration from config.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/retry"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

const (
	// FileName is the config file inside the data directory.
	FileName = "config.toml"

	// HomeEnv overrides the data directory.
	HomeEnv = "LINKDECK_HOME"
)

// Config is the parsed config.toml.
type Config struct {
	Accounts    AccountSettings             `toml:"accounts"`
	Handshake   HandshakeSettings           `toml:"handshake"`
	Retry       RetrySettings               `toml:"retry"`
	Strategies  map[string]StrategySettings `toml:"strategies"`
	Runtime     RuntimeSettings             `toml:"runtime"`
	Logs        LogSettings                 `toml:"logs"`
	Web         WebSettings                 `toml:"web"`
	Push        PushSettings                `toml:"push"`
	Maintenance MaintenanceSettings         `toml:"maintenance"`
}

// AccountSettings bound the registry.
type AccountSettings struct {
	// MaxAccounts is the admission limit (default: 10)
	MaxAccounts int `toml:"max_accounts"`

	// MessageBuffer is the per-account message history size (default: 100)
	MessageBuffer int `toml:"message_buffer"`

	// AutoConnect starts a handshake on startup for accounts with saved credentials
	AutoConnect bool `toml:"auto_connect"`

	// ReconnectDelaySecs is the wait after an unexpected disconnect (default: 5)
	ReconnectDelaySecs int `toml:"reconnect_delay_secs"`
}

// HandshakeSettings tune the code watchdogs.
type HandshakeSettings struct {
	// SoftWarningSecs emits a warning when no code has appeared (default: 30)
	SoftWarningSecs int `toml:"soft_warning_secs"`

	// HardCriticalSecs emits a critical event when no code has appeared (default: 90)
	HardCriticalSecs int `toml:"hard_critical_secs"`

	// InitGraceMs is the delay before health checks start (default: 3000)
	InitGraceMs int `toml:"init_grace_ms"`
}

// RetrySettings mirror retry.Policy.
type RetrySettings struct {
	MaxRetries       int `toml:"max_retries"`
	NetworkDelaySecs int `toml:"network_delay_secs"`
	BaseDelaySecs    int `toml:"base_delay_secs"`
}

// StrategySettings override one cascade entry by name.
type StrategySettings struct {
	TimeoutSecs int   `toml:"timeout_secs"`
	Headless    *bool `toml:"headless"`
	Disabled    bool  `toml:"disabled"`
}

// RuntimeSettings configure the browser runtime.
type RuntimeSettings struct {
	ChromeBin             string            `toml:"chrome_bin"`
	RemoteURL             string            `toml:"remote_url"`
	PollIntervalMs        int               `toml:"poll_interval_ms"`
	NavigationTimeoutSecs int               `toml:"navigation_timeout_secs"`
	ActionTimeoutSecs     int               `toml:"action_timeout_secs"`
	Selectors             session.Selectors `toml:"selectors"`
	ProfilesDir           string            `toml:"profiles_dir"`
}

// LogSettings configure debug.log.
type LogSettings struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the size before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep (default: 5)
	MaxBackups int `toml:"max_backups"`

	// RetentionDays is the age limit for rotated files (default: 10)
	RetentionDays int `toml:"retention_days"`

	// Compress gzips rotated files
	Compress bool `toml:"compress"`

	// RingBufferMB is the in-memory buffer dumped on SIGUSR1 (default: 4)
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalSecs is the aggregator flush interval (default: 30)
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`

	// Pprof starts a profiling server on localhost:6060
	Pprof bool `toml:"pprof"`
}

// WebSettings configure the HTTP transport.
type WebSettings struct {
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
}

// PushSettings configure web push notifications.
type PushSettings struct {
	Enabled bool   `toml:"enabled"`
	Subject string `toml:"subject"`
}

// MaintenanceSettings configure the background maintenance worker.
type MaintenanceSettings struct {
	IntervalMins       int `toml:"interval_mins"`
	ErrorRetentionDays int `toml:"error_retention_days"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Strategies == nil {
		c.Strategies = make(map[string]StrategySettings)
	}

	a := &c.Accounts
	if a.MaxAccounts <= 0 {
		a.MaxAccounts = 10
	}
	if a.MessageBuffer <= 0 {
		a.MessageBuffer = 100
	}
	if a.ReconnectDelaySecs <= 0 {
		a.ReconnectDelaySecs = 5
	}

	h := &c.Handshake
	if h.SoftWarningSecs <= 0 {
		h.SoftWarningSecs = 30
	}
	if h.HardCriticalSecs <= 0 {
		h.HardCriticalSecs = 90
	}
	if h.InitGraceMs <= 0 {
		h.InitGraceMs = 3000
	}

	p := retry.DefaultPolicy()
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = p.MaxRetries
	}
	if c.Retry.NetworkDelaySecs <= 0 {
		c.Retry.NetworkDelaySecs = int(p.NetworkDelay / time.Second)
	}
	if c.Retry.BaseDelaySecs <= 0 {
		c.Retry.BaseDelaySecs = int(p.BaseDelay / time.Second)
	}

	rt := session.DefaultRuntimeConfig()
	r := &c.Runtime
	if r.RemoteURL == "" {
		r.RemoteURL = rt.RemoteURL
	}
	if r.PollIntervalMs <= 0 {
		r.PollIntervalMs = int(rt.PollInterval / time.Millisecond)
	}
	if r.NavigationTimeoutSecs <= 0 {
		r.NavigationTimeoutSecs = int(rt.NavigationTimeout / time.Second)
	}
	if r.ActionTimeoutSecs <= 0 {
		r.ActionTimeoutSecs = int(rt.ActionTimeout / time.Second)
	}
	r.Selectors = mergeSelectors(r.Selectors, rt.Selectors)

	l := &c.Logs
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.RetentionDays <= 0 {
		l.RetentionDays = 10
	}
	if l.RingBufferMB <= 0 {
		l.RingBufferMB = 4
	}
	if l.AggregateIntervalSecs <= 0 {
		l.AggregateIntervalSecs = 30
	}

	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = "127.0.0.1:8430"
	}
	if c.Push.Subject == "" {
		c.Push.Subject = "mailto:linkdeck@localhost"
	}

	if c.Maintenance.IntervalMins <= 0 {
		c.Maintenance.IntervalMins = 15
	}
	if c.Maintenance.ErrorRetentionDays <= 0 {
		c.Maintenance.ErrorRetentionDays = int(account.DefaultErrorRetention / (24 * time.Hour))
	}
}

// mergeSelectors fills every empty selector from def, so a config can
// override a single selector without restating the rest.
func mergeSelectors(s, def session.Selectors) session.Selectors {
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&s.Code, def.Code)
	fill(&s.CodeAttr, def.CodeAttr)
	fill(&s.Ready, def.Ready)
	fill(&s.AuthFailure, def.AuthFailure)
	fill(&s.Loading, def.Loading)
	fill(&s.ChatRow, def.ChatRow)
	fill(&s.ChatIDAttr, def.ChatIDAttr)
	fill(&s.ChatName, def.ChatName)
	fill(&s.ChatLastMessage, def.ChatLastMessage)
	fill(&s.ChatUnread, def.ChatUnread)
	fill(&s.GroupMarker, def.GroupMarker)
	fill(&s.SearchBox, def.SearchBox)
	fill(&s.ComposeBox, def.ComposeBox)
	if len(s.DirectCode) == 0 {
		s.DirectCode = append([]string(nil), def.DirectCode...)
	}
	return s
}

// Dir returns the data directory: $LINKDECK_HOME or ~/.linkdeck.
func Dir() (string, error) {
	if d := strings.TrimSpace(os.Getenv(HomeEnv)); d != "" {
		return d, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".linkdeck"), nil
}

// Path returns the default config.toml location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads path. A missing file yields the defaults. On a parse error
// the defaults are returned together with the error.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Default(), fmt.Errorf("config.toml parse error: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// Save writes c to path atomically.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# linkdeck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config: %w", err)
	}
	return nil
}

// AccountConfig maps the file onto manager settings.
func (c *Config) AccountConfig() account.Config {
	overrides := make(map[string]session.Override, len(c.Strategies))
	for name, s := range c.Strategies {
		overrides[name] = session.Override{
			Timeout:  secs(s.TimeoutSecs),
			Headless: s.Headless,
			Disabled: s.Disabled,
		}
	}

	return account.Config{
		MaxAccounts:       c.Accounts.MaxAccounts,
		Cascade:           session.ApplyOverrides(session.DefaultCascade(), overrides),
		SoftWarning:       secs(c.Handshake.SoftWarningSecs),
		HardCritical:      secs(c.Handshake.HardCriticalSecs),
		ReconnectDelay:    secs(c.Accounts.ReconnectDelaySecs),
		InitGrace:         time.Duration(c.Handshake.InitGraceMs) * time.Millisecond,
		MessageBufferSize: c.Accounts.MessageBuffer,
		Retry: retry.Policy{
			MaxRetries:   c.Retry.MaxRetries,
			NetworkDelay: secs(c.Retry.NetworkDelaySecs),
			BaseDelay:    secs(c.Retry.BaseDelaySecs),
		},
		AutoConnect: c.Accounts.AutoConnect,
	}
}

// RuntimeConfig maps [runtime] onto the browser factory settings.
func (c *Config) RuntimeConfig() session.RuntimeConfig {
	return session.RuntimeConfig{
		ChromeBin:         c.Runtime.ChromeBin,
		RemoteURL:         c.Runtime.RemoteURL,
		PollInterval:      time.Duration(c.Runtime.PollIntervalMs) * time.Millisecond,
		NavigationTimeout: secs(c.Runtime.NavigationTimeoutSecs),
		ActionTimeout:     secs(c.Runtime.ActionTimeoutSecs),
		Selectors:         c.Runtime.Selectors,
	}
}

// LoggingConfig maps [logs] onto logging.Config rooted at logDir.
func (c *Config) LoggingConfig(logDir string) logging.Config {
	return logging.Config{
		LogDir:                logDir,
		Level:                 c.Logs.Level,
		Format:                c.Logs.Format,
		MaxSizeMB:             c.Logs.MaxSizeMB,
		MaxBackups:            c.Logs.MaxBackups,
		MaxAgeDays:            c.Logs.RetentionDays,
		Compress:              c.Logs.Compress,
		RingBufferSize:        c.Logs.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: c.Logs.AggregateIntervalSecs,
		PprofEnabled:          c.Logs.Pprof,
	}
}

// MaintenanceInterval is how often the maintenance worker runs.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Maintenance.IntervalMins) * time.Minute
}

// ErrorRetention is how long recent errors are kept.
func (c *Config) ErrorRetention() time.Duration {
	return time.Duration(c.Maintenance.ErrorRetentionDays) * 24 * time.Hour
}

// ProfilesDir is where per-account namespaces live, defaulting to
// <dataDir>/profiles.
func (c *Config) ProfilesDir(dataDir string) string {
	if d := c.Runtime.ProfilesDir; d != "" {
		if rest, ok := strings.CutPrefix(d, "~/"); ok {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, rest)
			}
		}
		return d
	}
	return filepath.Join(dataDir, "profiles")
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// CreateExample writes a commented example config. An existing file is left alone.
func CreateExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(exampleConfig), 0o600)
}

const exampleConfig = `# linkdeck configuration
# Every value below is optional; the commented values are the defaults.

[accounts]
# max_accounts = 10
# message_buffer = 100
# Start a handshake on startup for accounts that already have saved credentials
# auto_connect = false
# reconnect_delay_secs = 5

[handshake]
# Warn when no pairing code has appeared after this long
# soft_warning_secs = 30
# Raise a critical event after this long
# hard_critical_secs = 90
# init_grace_ms = 3000

[retry]
# max_retries = 3
# network_delay_secs = 5
# Other errors back off as base, 2*base, 4*base
# base_delay_secs = 10

# Per-strategy overrides. Strategies: standard, minimal, direct, ultra-minimal
# [strategies.standard]
# timeout_secs = 60
# headless = true
# [strategies.ultra-minimal]
# disabled = true

[runtime]
# chrome_bin = "/usr/bin/chromium"
# remote_url = "https://web.whatsapp.com"
# poll_interval_ms = 1000
# navigation_timeout_secs = 45
# action_timeout_secs = 15
# profiles_dir = "~/.linkdeck/profiles"

# [runtime.selectors]
# code = "div[data-ref]"
# ready = "#pane-side"

[logs]
# level = "info"
# format = "json"
# max_size_mb = 10
# max_backups = 5
# retention_days = 10
# compress = false
# ring_buffer_mb = 4
# pprof = false

[web]
# listen_addr = "127.0.0.1:8430"
# token = ""

[push]
# enabled = false
# subject = "mailto:linkdeck@localhost"

[maintenance]
# interval_mins = 15
# error_retention_days = 7
`
