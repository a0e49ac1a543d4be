package session

import (
	"strconv"
	"strings"
	"time"
)

// Selectors locate the page elements the runtime observes and drives.
type Selectors struct {
	Code        string `toml:"code"`
	CodeAttr    string `toml:"code_attr"`
	Ready       string `toml:"ready"`
	AuthFailure string `toml:"auth_failure"`
	Loading     string `toml:"loading"`

	ChatRow         string `toml:"chat_row"`
	ChatIDAttr      string `toml:"chat_id_attr"`
	ChatName        string `toml:"chat_name"`
	ChatLastMessage string `toml:"chat_last_message"`
	ChatUnread      string `toml:"chat_unread"`
	GroupMarker     string `toml:"group_marker"`

	SearchBox  string `toml:"search_box"`
	ComposeBox string `toml:"compose_box"`

	// DirectCode is tried in order by the direct strategy.
	DirectCode []string `toml:"direct_code"`
}

// RuntimeConfig configures the browser runtime shared by all sessions.
type RuntimeConfig struct {
	ChromeBin         string
	RemoteURL         string
	PollInterval      time.Duration
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	Selectors         Selectors
}

// DefaultSelectors match the remote web client's current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Code:            "div[data-ref]",
		CodeAttr:        "data-ref",
		Ready:           "#pane-side",
		AuthFailure:     "[data-testid='auth-failure'], [data-testid='logged-out']",
		Loading:         "progress",
		ChatRow:         "#pane-side div[role='listitem']",
		ChatIDAttr:      "data-id",
		ChatName:        "span[title]",
		ChatLastMessage: "div[role='gridcell'] span[dir='ltr']",
		ChatUnread:      "span[aria-label*='unread']",
		GroupMarker:     "span[data-icon='default-group']",
		SearchBox:       "div[contenteditable='true'][data-tab='3']",
		ComposeBox:      "footer div[contenteditable='true']",
		DirectCode:      []string{"div[data-ref]", "[data-testid='qrcode']", "canvas[aria-label]"},
	}
}

// DefaultRuntimeConfig returns the stock runtime settings.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		RemoteURL:         "https://web.whatsapp.com",
		PollInterval:      time.Second,
		NavigationTimeout: 45 * time.Second,
		ActionTimeout:     15 * time.Second,
		Selectors:         DefaultSelectors(),
	}
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	d := DefaultRuntimeConfig()
	if c.RemoteURL == "" {
		c.RemoteURL = d.RemoteURL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.Selectors.Code == "" && c.Selectors.Ready == "" {
		c.Selectors = d.Selectors
	}
	return c
}

// parsePercent pulls the first integer out of s and clamps it to 0..100.
func parsePercent(s string) (int, bool) {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && isDigit(rune(s[end])) {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, false
	}
	return min(max(n, 0), 100), true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// parseUnread reads an unread badge ("3", "3 unread messages"). Empty is 0.
func parseUnread(s string) int {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0
	}
	end := start
	for end < len(s) && isDigit(rune(s[end])) {
		end++
	}
	n, _ := strconv.Atoi(s[start:end])
	return n
}
