package session

import (
	"fmt"
	"slices"
	"time"
)

// Mode selects the code path a strategy runs on.
type Mode string

const (
	// ModeClient drives the page through the regular session runtime.
	ModeClient Mode = "client"
	// ModeDirect extracts the code by driving the page itself.
	ModeDirect Mode = "direct"
)

// ExecResolution selects how the browser executable is found.
type ExecResolution string

const (
	ExecAuto    ExecResolution = "auto"
	ExecSystem  ExecResolution = "system"
	ExecBundled ExecResolution = "bundled"
)

// Strategy is one preset of the handshake fallback cascade.
type Strategy struct {
	Name                string         `json:"name"`
	Mode                Mode           `json:"mode"`
	Headless            bool           `json:"headless"`
	Args                []string       `json:"args"`
	Exec                ExecResolution `json:"exec"`
	Timeout             time.Duration  `json:"timeout"`
	HealthCheckInterval time.Duration  `json:"healthCheckInterval"`
	MaxHealthChecks     int            `json:"maxHealthChecks"`
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Mode)
}

// Strategy names of the default cascade.
const (
	StrategyStandard     = "standard"
	StrategyMinimal      = "minimal"
	StrategyDirect       = "direct"
	StrategyUltraMinimal = "ultra-minimal"
)

var hardeningArgs = []string{
	"no-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-extensions",
	"disable-background-networking",
	"disable-background-timer-throttling",
	"disable-renderer-backgrounding",
	"disable-sync",
	"no-first-run",
	"no-default-browser-check",
	"mute-audio",
	"disable-features=Translate,MediaRouter",
}

// DefaultCascade returns the fallback order: isolated and fully hardened,
// then fewer flags, then the direct path in a visible window, then a bare
// no-sandbox launch. Later entries get more generous timeouts.
func DefaultCascade() []Strategy {
	return []Strategy{
		{
			Name:                StrategyStandard,
			Mode:                ModeClient,
			Headless:            true,
			Args:                slices.Clone(hardeningArgs),
			Exec:                ExecAuto,
			Timeout:             60 * time.Second,
			HealthCheckInterval: 5 * time.Second,
			MaxHealthChecks:     3,
		},
		{
			Name:                StrategyMinimal,
			Mode:                ModeClient,
			Headless:            true,
			Args:                []string{"no-sandbox", "disable-dev-shm-usage", "disable-gpu"},
			Exec:                ExecAuto,
			Timeout:             90 * time.Second,
			HealthCheckInterval: 5 * time.Second,
			MaxHealthChecks:     4,
		},
		{
			Name:                StrategyDirect,
			Mode:                ModeDirect,
			Headless:            false,
			Args:                []string{"no-sandbox", "disable-dev-shm-usage"},
			Exec:                ExecSystem,
			Timeout:             120 * time.Second,
			HealthCheckInterval: 10 * time.Second,
			MaxHealthChecks:     4,
		},
		{
			Name:                StrategyUltraMinimal,
			Mode:                ModeClient,
			Headless:            true,
			Args:                []string{"no-sandbox"},
			Exec:                ExecBundled,
			Timeout:             150 * time.Second,
			HealthCheckInterval: 10 * time.Second,
			MaxHealthChecks:     5,
		},
	}
}

// Override adjusts one named strategy. Zero values keep the preset.
type Override struct {
	Timeout  time.Duration
	Headless *bool
	Disabled bool
}

// ApplyOverrides returns a copy of cascade with overrides applied by name,
// preserving order. Disabled strategies are removed.
func ApplyOverrides(cascade []Strategy, overrides map[string]Override) []Strategy {
	out := make([]Strategy, 0, len(cascade))
	for _, s := range cascade {
		s.Args = slices.Clone(s.Args)
		if o, ok := overrides[s.Name]; ok {
			if o.Disabled {
				continue
			}
			if o.Timeout > 0 {
				s.Timeout = o.Timeout
			}
			if o.Headless != nil {
				s.Headless = *o.Headless
			}
		}
		out = append(out, s)
	}
	return out
}
