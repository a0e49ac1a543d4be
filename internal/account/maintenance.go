package account

import (
	"context"
	"log/slog"
	"time"
)

// DefaultErrorRetention is how long background errors are kept.
const DefaultErrorRetention = 7 * 24 * time.Hour

// MaintenanceResult holds the outcome of a maintenance run.
type MaintenanceResult struct {
	PrunedErrors    int
	TouchedAccounts int
	HeartbeatErr    error
	Duration        time.Duration
}

// RunMaintenance prunes old errors, persists last-access times and refreshes
// the store heartbeat.
func (m *Manager) RunMaintenance(ctx context.Context, retention time.Duration) MaintenanceResult {
	start := time.Now()
	if retention <= 0 {
		retention = DefaultErrorRetention
	}
	res := MaintenanceResult{PrunedErrors: m.errors.PruneOlderThan(retention, m.clock.Now())}

	m.mu.Lock()
	touched := make(map[string]time.Time, len(m.accounts))
	for id, acc := range m.accounts {
		touched[id] = acc.lastAccessed
	}
	m.mu.Unlock()

	if m.store != nil {
		if len(touched) > 0 {
			if err := m.store.TouchAccounts(ctx, touched); err != nil {
				acctLog.Warn("maintenance_touch_failed", slog.String("error", err.Error()))
			} else {
				res.TouchedAccounts = len(touched)
			}
		}
		res.HeartbeatErr = m.store.Heartbeat(ctx)
		if res.HeartbeatErr != nil {
			acctLog.Warn("maintenance_heartbeat_failed", slog.String("error", res.HeartbeatErr.Error()))
		}
	}
	res.Duration = time.Since(start)
	return res
}

// StartMaintenance launches a background goroutine that runs maintenance
// immediately and then on every interval tick until ctx is done.
func (m *Manager) StartMaintenance(ctx context.Context, interval, retention time.Duration, onComplete func(MaintenanceResult)) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		run := func() {
			result := m.RunMaintenance(ctx, retention)
			if result.PrunedErrors > 0 {
				acctLog.Info("maintenance_pruned_errors", slog.Int("count", result.PrunedErrors))
			}
			if onComplete != nil {
				onComplete(result)
			}
		}
		run()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
