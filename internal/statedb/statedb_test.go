package statedb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/isolation"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func row(id string, order int) AccountRow {
	return AccountRow{
		ID:           id,
		DisplayName:  "Name " + id,
		CredentialNS: "/data/credentials/" + id,
		ProfileNS:    "/data/profiles/" + id,
		SortOrder:    order,
		CreatedAt:    time.Unix(1700000000, 0),
	}
}

func TestAccountsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveAccount(ctx, row("a1", 0)); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	rows, err := db2.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 account, got %d", len(rows))
	}
	if rows[0] != row("a1", 0) {
		t.Errorf("Unexpected data: %+v", rows[0])
	}
}

func TestLoadAccountsOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveAccounts(ctx, []AccountRow{row("c", 2), row("a", 0), row("b", 1)}); err != nil {
		t.Fatalf("SaveAccounts: %v", err)
	}
	rows, err := db.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("Expected [a b c], got %v", ids)
	}

	n, _ := db.AccountCount(ctx)
	if n != 3 {
		t.Errorf("Expected 3 accounts, got %d", n)
	}
}

func TestDeleteAndTouchAccounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_ = db.SaveAccount(ctx, row("a", 0))
	_ = db.SaveAccount(ctx, row("b", 1))

	if err := db.DeleteAccount(ctx, "a"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := db.DeleteAccount(ctx, "missing"); err != nil {
		t.Fatalf("DeleteAccount(missing): %v", err)
	}

	at := time.Unix(1800000000, 0)
	if err := db.TouchAccounts(ctx, map[string]time.Time{"b": at, "gone": at}); err != nil {
		t.Fatalf("TouchAccounts: %v", err)
	}

	rows, _ := db.LoadAccounts(ctx)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 account after delete, got %d", len(rows))
	}
	if !rows[0].LastAccessed.Equal(at) {
		t.Errorf("Expected last_accessed %v, got %v", at, rows[0].LastAccessed)
	}
}

func TestPushSubscriptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sub := PushSubscriptionRow{Endpoint: " https://push.example/1 ", P256DH: "k1", Auth: "a1"}
	if err := db.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	sub.P256DH = "k2"
	if err := db.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	if err := db.UpsertPushSubscription(ctx, PushSubscriptionRow{Endpoint: "  "}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	subs, err := db.ListPushSubscriptions(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example/1" || subs[0].P256DH != "k2" {
		t.Fatalf("Unexpected subscriptions: %+v", subs)
	}

	if err := db.RemovePushSubscription(ctx, "https://push.example/1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	subs, _ = db.ListPushSubscriptions(ctx)
	if len(subs) != 0 {
		t.Errorf("Expected no subscriptions, got %d", len(subs))
	}
}

func TestHeartbeatCleanup(t *testing.T) {
	db := newTestDB(t)

	stale := time.Now().Add(-2 * time.Minute).Unix()
	_, err := db.DB().Exec(
		"INSERT INTO instance_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		99999, stale, stale, 0,
	)
	if err != nil {
		t.Fatalf("Insert stale: %v", err)
	}
	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := db.CleanDeadInstances(30 * time.Second); err != nil {
		t.Fatalf("CleanDeadInstances: %v", err)
	}

	count, _ := db.AliveInstanceCount()
	if count != 1 {
		t.Errorf("Expected 1 alive after cleanup, got %d", count)
	}

	if err := db.UnregisterInstance(); err != nil {
		t.Fatalf("UnregisterInstance: %v", err)
	}
	count, _ = db.AliveInstanceCount()
	if count != 0 {
		t.Errorf("Expected 0 alive after unregister, got %d", count)
	}
}

func TestElectPrimary(t *testing.T) {
	tests := []struct {
		name        string
		otherAge    time.Duration
		otherIsPrim bool
		want        bool
	}{
		{name: "alone", want: true},
		{name: "live primary elsewhere", otherAge: 0, otherIsPrim: true, want: false},
		{name: "stale primary elsewhere", otherAge: 2 * time.Minute, otherIsPrim: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			if tt.otherIsPrim {
				hb := time.Now().Add(-tt.otherAge).Unix()
				if _, err := db.DB().Exec(
					"INSERT INTO instance_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, 1)",
					10001, hb, hb,
				); err != nil {
					t.Fatalf("Insert other: %v", err)
				}
			}
			if err := db.RegisterInstance(false); err != nil {
				t.Fatalf("RegisterInstance: %v", err)
			}
			got, err := db.ElectPrimary(30 * time.Second)
			if err != nil {
				t.Fatalf("ElectPrimary: %v", err)
			}
			if got != tt.want {
				t.Errorf("ElectPrimary = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResignPrimary(t *testing.T) {
	db := newTestDB(t)
	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if ok, _ := db.ElectPrimary(30 * time.Second); !ok {
		t.Fatal("Should be primary")
	}
	if err := db.ResignPrimary(); err != nil {
		t.Fatalf("ResignPrimary: %v", err)
	}

	var isPrim int
	if err := db.DB().QueryRow("SELECT is_primary FROM instance_heartbeats WHERE pid = ?", db.pid).Scan(&isPrim); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if isPrim != 0 {
		t.Error("Should not be primary after resign")
	}
}

func TestMetadata(t *testing.T) {
	db := newTestDB(t)

	val, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if val != "1" {
		t.Errorf("Expected schema_version 1, got %q", val)
	}

	val, _ = db.GetMeta("nonexistent")
	if val != "" {
		t.Errorf("Expected empty, got %q", val)
	}
	if err := db.SetMeta("vapid_public", "abc"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	val, _ = db.GetMeta("vapid_public")
	if val != "abc" {
		t.Errorf("Expected 'abc', got %q", val)
	}
}

func TestConcurrentAccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_ = db.RegisterInstance(true)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id := string(rune('a' + idx))
				_ = db.SaveAccount(ctx, row(id, idx))
				_, _ = db.LoadAccounts(ctx)
				_ = db.Heartbeat()
			}
		}(i)
	}
	wg.Wait()

	n, err := db.AccountCount(ctx)
	if err != nil {
		t.Fatalf("AccountCount: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 accounts, got %d", n)
	}
}

func TestAccountStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewAccountStore(db)
	_ = db.RegisterInstance(true)

	in := account.StoredAccount{
		ID:          "work",
		DisplayName: "Work",
		Paths:       isolation.Paths{Credentials: "/c/work", Profile: "/p/work"},
		SortOrder:   3,
		CreatedAt:   time.Unix(1700000000, 0),
	}
	if err := store.SaveAccount(ctx, in); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	out, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(out) != 1 || out[0] != in {
		t.Fatalf("Round trip mismatch: %+v", out)
	}
	if err := store.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := store.DeleteAccount(ctx, "work"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	out, _ = store.ListAccounts(ctx)
	if len(out) != 0 {
		t.Errorf("Expected empty store, got %d", len(out))
	}
}

func TestExportImportAccounts(t *testing.T) {
	src := newTestDB(t)
	dst := newTestDB(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.json")

	_ = src.SaveAccounts(ctx, []AccountRow{row("a", 0), row("b", 1)})
	_ = dst.SaveAccount(ctx, row("b", 0))

	n, err := ExportAccountsJSON(ctx, src, path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 exported, got %d", n)
	}

	n, err = ImportAccountsJSON(ctx, path, dst)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 imported (b exists), got %d", n)
	}

	rows, _ := dst.LoadAccounts(ctx)
	if len(rows) != 2 || rows[1].ID != "a" || rows[1].SortOrder != 1 {
		t.Errorf("Unexpected rows after import: %+v", rows)
	}
}
