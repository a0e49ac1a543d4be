package statedb

import (
	"context"
	"fmt"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/isolation"
)

// AccountStore adapts StateDB to account.Store.
type AccountStore struct {
	db *StateDB
}

// NewAccountStore wraps db.
func NewAccountStore(db *StateDB) *AccountStore {
	return &AccountStore{db: db}
}

var _ account.Store = (*AccountStore)(nil)

func toRow(a account.StoredAccount) AccountRow {
	return AccountRow{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		CredentialNS: a.Paths.Credentials,
		ProfileNS:    a.Paths.Profile,
		SortOrder:    a.SortOrder,
		CreatedAt:    a.CreatedAt,
		LastAccessed: a.LastAccessed,
	}
}

func fromRow(r AccountRow) account.StoredAccount {
	return account.StoredAccount{
		ID:           r.ID,
		DisplayName:  r.DisplayName,
		Paths:        isolation.Paths{Credentials: r.CredentialNS, Profile: r.ProfileNS},
		SortOrder:    r.SortOrder,
		CreatedAt:    r.CreatedAt,
		LastAccessed: r.LastAccessed,
	}
}

func (s *AccountStore) SaveAccount(ctx context.Context, a account.StoredAccount) error {
	return s.db.SaveAccount(ctx, toRow(a))
}

func (s *AccountStore) DeleteAccount(ctx context.Context, id string) error {
	return s.db.DeleteAccount(ctx, id)
}

func (s *AccountStore) ListAccounts(ctx context.Context) ([]account.StoredAccount, error) {
	rows, err := s.db.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]account.StoredAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *AccountStore) TouchAccounts(ctx context.Context, lastAccessed map[string]time.Time) error {
	return s.db.TouchAccounts(ctx, lastAccessed)
}

// Heartbeat refreshes this daemon's heartbeat row.
func (s *AccountStore) Heartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Heartbeat(); err != nil {
		return fmt.Errorf("statedb: heartbeat: %w", err)
	}
	return nil
}
