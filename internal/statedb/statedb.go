package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database holding the durable account registry,
// web push subscriptions and daemon heartbeats.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// AccountRow is one persisted account. Connection state is never stored.
type AccountRow struct {
	ID           string
	DisplayName  string
	CredentialNS string
	ProfileNS    string
	SortOrder    int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// PushSubscriptionRow is one browser push endpoint.
type PushSubscriptionRow struct {
	Endpoint  string
	P256DH    string
	Auth      string
	CreatedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		name string
		sql  string
	}{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"accounts", `
			CREATE TABLE IF NOT EXISTS accounts (
				id            TEXT PRIMARY KEY,
				display_name  TEXT NOT NULL DEFAULT '',
				credential_ns TEXT NOT NULL,
				profile_ns    TEXT NOT NULL,
				sort_order    INTEGER NOT NULL DEFAULT 0,
				created_at    INTEGER NOT NULL,
				last_accessed INTEGER NOT NULL DEFAULT 0
			)`},
		{"push_subscriptions", `
			CREATE TABLE IF NOT EXISTS push_subscriptions (
				endpoint   TEXT PRIMARY KEY,
				p256dh     TEXT NOT NULL,
				auth       TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`},
		{"heartbeats", `
			CREATE TABLE IF NOT EXISTS instance_heartbeats (
				pid        INTEGER PRIMARY KEY,
				started    INTEGER NOT NULL,
				heartbeat  INTEGER NOT NULL,
				is_primary INTEGER NOT NULL DEFAULT 0
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Accounts ---

// SaveAccount inserts or replaces one account row.
func (s *StateDB) SaveAccount(ctx context.Context, a AccountRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (id, display_name, credential_ns, profile_ns, sort_order, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.DisplayName, a.CredentialNS, a.ProfileNS, a.SortOrder, a.CreatedAt.Unix(), unixOrZero(a.LastAccessed))
	if err != nil {
		return fmt.Errorf("statedb: save account %s: %w", a.ID, err)
	}
	return nil
}

// SaveAccounts writes rows in a single transaction.
func (s *StateDB) SaveAccounts(ctx context.Context, rows []AccountRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statedb: begin save accounts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO accounts (id, display_name, credential_ns, profile_ns, sort_order, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("statedb: prepare save accounts: %w", err)
	}
	defer stmt.Close()

	for _, a := range rows {
		if _, err := stmt.ExecContext(ctx, a.ID, a.DisplayName, a.CredentialNS, a.ProfileNS, a.SortOrder, a.CreatedAt.Unix(), unixOrZero(a.LastAccessed)); err != nil {
			return fmt.Errorf("statedb: save account %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// LoadAccounts returns every account ordered by sort_order.
func (s *StateDB) LoadAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, credential_ns, profile_ns, sort_order, created_at, last_accessed
		FROM accounts ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var (
			a                 AccountRow
			created, accessed int64
		)
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.CredentialNS, &a.ProfileNS, &a.SortOrder, &created, &accessed); err != nil {
			return nil, fmt.Errorf("statedb: scan account: %w", err)
		}
		a.CreatedAt = time.Unix(created, 0)
		if accessed > 0 {
			a.LastAccessed = time.Unix(accessed, 0)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account row. Deleting a missing row is not an error.
func (s *StateDB) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	return err
}

// TouchAccounts updates last_accessed for the given accounts.
func (s *StateDB) TouchAccounts(ctx context.Context, lastAccessed map[string]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statedb: begin touch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for id, at := range lastAccessed {
		if _, err := tx.ExecContext(ctx, "UPDATE accounts SET last_accessed = ? WHERE id = ?", unixOrZero(at), id); err != nil {
			return fmt.Errorf("statedb: touch %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AccountCount returns the number of persisted accounts.
func (s *StateDB) AccountCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count)
	return count, err
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// --- Push subscriptions ---

// UpsertPushSubscription stores or refreshes a subscription by endpoint.
func (s *StateDB) UpsertPushSubscription(ctx context.Context, sub PushSubscriptionRow) error {
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.Endpoint == "" {
		return fmt.Errorf("statedb: endpoint is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth
	`, sub.Endpoint, sub.P256DH, sub.Auth, sub.CreatedAt.Unix())
	return err
}

// ListPushSubscriptions returns all subscriptions, oldest first.
func (s *StateDB) ListPushSubscriptions(ctx context.Context) ([]PushSubscriptionRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT endpoint, p256dh, auth, created_at FROM push_subscriptions ORDER BY created_at, endpoint")
	if err != nil {
		return nil, fmt.Errorf("statedb: list push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []PushSubscriptionRow
	for rows.Next() {
		var (
			sub     PushSubscriptionRow
			created int64
		)
		if err := rows.Scan(&sub.Endpoint, &sub.P256DH, &sub.Auth, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(created, 0)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RemovePushSubscription deletes a subscription by endpoint.
func (s *StateDB) RemovePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", strings.TrimSpace(endpoint))
	return err
}

// --- Heartbeat ---

// RegisterInstance records this process as a running daemon.
func (s *StateDB) RegisterInstance(isPrimary bool) error {
	now := time.Now().Unix()
	primary := 0
	if isPrimary {
		primary = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO instance_heartbeats (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, ?)
	`, s.pid, now, now, primary)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *StateDB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE instance_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterInstance removes this process from the heartbeat table.
func (s *StateDB) UnregisterInstance() error {
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadInstances removes heartbeat entries that haven't been updated within timeout.
func (s *StateDB) CleanDeadInstances(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// AliveInstanceCount returns how many daemons have fresh heartbeats.
func (s *StateDB) AliveInstanceCount() (int, error) {
	var count int
	cutoff := time.Now().Add(-30 * time.Second).Unix()
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM instance_heartbeats WHERE heartbeat >= ?", cutoff,
	).Scan(&count)
	return count, err
}

// --- Primary Election ---

// ElectPrimary attempts to make this process the primary daemon, the only
// one allowed to drive the account profile directories.
// Returns true if this process is now (or already was) the primary.
func (s *StateDB) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	// Clear is_primary for any heartbeat older than timeout (stale primary)
	if _, err := tx.Exec(
		"UPDATE instance_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM instance_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)

	if err == nil {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	}

	if _, err := tx.Exec(
		"UPDATE instance_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	return true, nil
}

// ResignPrimary clears the is_primary flag for this process.
func (s *StateDB) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE instance_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
