package statedb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// jsonRegistry is the portable form of the account registry used by
// `linkdeck accounts export` and `linkdeck accounts import`.
type jsonRegistry struct {
	ExportedAt time.Time     `json:"exportedAt"`
	Accounts   []jsonAccount `json:"accounts"`
}

type jsonAccount struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	CredentialNS string    `json:"credentialNamespace"`
	ProfileNS    string    `json:"profileNamespace"`
	SortOrder    int       `json:"sortOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed,omitempty"`
}

// ExportAccountsJSON writes every account row to path.
func ExportAccountsJSON(ctx context.Context, db *StateDB, path string) (int, error) {
	rows, err := db.LoadAccounts(ctx)
	if err != nil {
		return 0, err
	}
	reg := jsonRegistry{ExportedAt: time.Now().UTC(), Accounts: make([]jsonAccount, 0, len(rows))}
	for _, r := range rows {
		reg.Accounts = append(reg.Accounts, jsonAccount(r))
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, fmt.Errorf("write registry: %w", err)
	}
	return len(rows), nil
}

// ImportAccountsJSON reads a registry export and inserts its accounts.
// Accounts already present are skipped. Returns how many were imported.
func ImportAccountsJSON(ctx context.Context, jsonPath string, db *StateDB) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("read json: %w", err)
	}

	var reg jsonRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return 0, fmt.Errorf("parse json: %w", err)
	}

	existing, err := db.LoadAccounts(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	next := 0
	for _, r := range existing {
		seen[r.ID] = true
		if r.SortOrder >= next {
			next = r.SortOrder + 1
		}
	}

	rows := make([]AccountRow, 0, len(reg.Accounts))
	for _, a := range reg.Accounts {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" || seen[a.ID] {
			continue
		}
		if a.CredentialNS == "" || a.ProfileNS == "" {
			return 0, fmt.Errorf("account %s: namespaces are required", a.ID)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		a.SortOrder = next
		next++
		seen[a.ID] = true
		rows = append(rows, AccountRow(a))
	}

	if len(rows) == 0 {
		return 0, nil
	}
	if err := db.SaveAccounts(ctx, rows); err != nil {
		return 0, fmt.Errorf("save accounts: %w", err)
	}
	return len(rows), nil
}
