package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", path, err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupTestStore(t *testing.T) *SQLiteStore {
	return openStore(t, ":memory:")
}

func TestStore_FileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	// Already at the latest version.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	for _, table := range []string{"renders", "facts", "audit"} {
		var n int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck succeeded on a closed store")
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an empty path to be rejected")
	}
}

func TestRenderHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, target := range []string{"db1", "db1", "db2"} {
		err := store.CreateRender(ctx, &Render{
			ID:         []string{"r1", "r2", "r3"}[i],
			Target:     target,
			Ensure:     "present",
			InputHash:  "in",
			ConfigHash: "cfg",
			Artifacts:  `{}`,
			Overrides:  i,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("failed to create render: %v", err)
		}
	}

	got, err := store.GetRender(ctx, "r2")
	if err != nil {
		t.Fatalf("failed to get render: %v", err)
	}
	if got.Target != "db1" || got.Overrides != 1 {
		t.Errorf("unexpected render: %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, base.Add(time.Minute))
	}

	latest, err := store.LatestRender(ctx, "db1")
	if err != nil {
		t.Fatalf("failed to get latest render: %v", err)
	}
	if latest.ID != "r2" {
		t.Errorf("latest render = %s, want r2", latest.ID)
	}

	target := "db1"
	list, err := store.ListRenders(ctx, &target, 10, 0)
	if err != nil {
		t.Fatalf("failed to list renders: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r2" || list[1].ID != "r1" {
		t.Errorf("unexpected render list for db1: %d entries", len(list))
	}

	all, err := store.ListRenders(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list renders: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 renders, got %d", len(all))
	}

	if _, err := store.GetRender(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.LatestRender(ctx, "db9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFactOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fact := &Fact{
		ID:        "fact-001",
		TargetID:  "host-001",
		Namespace: "os.basic",
		Key:       "architecture",
		Value:     `"x86_64"`,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.UpsertFact(ctx, fact); err != nil {
		t.Fatalf("failed to upsert fact: %v", err)
	}

	// Same key, new value: the row is updated in place.
	updated := *fact
	updated.ID = "fact-002"
	updated.Value = `"i686"`
	if err := store.UpsertFact(ctx, &updated); err != nil {
		t.Fatalf("failed to update fact: %v", err)
	}

	got, err := store.GetFact(ctx, "host-001", "os.basic", "architecture")
	if err != nil {
		t.Fatalf("failed to get fact: %v", err)
	}
	if got.Value != `"i686"` || got.ID != "fact-001" {
		t.Errorf("unexpected fact after upsert: %+v", got)
	}

	past := now.Add(-time.Hour)
	expired := &Fact{
		ID:        "fact-003",
		TargetID:  "host-001",
		Namespace: "os.basic",
		Key:       "os_family",
		Value:     `"Debian"`,
		TTL:       60,
		ExpiresAt: &past,
		CreatedAt: past,
		UpdatedAt: past,
	}
	if err := store.UpsertFact(ctx, expired); err != nil {
		t.Fatalf("failed to upsert expired fact: %v", err)
	}

	if _, err := store.GetFact(ctx, "host-001", "os.basic", "os_family"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired fact to be hidden, got %v", err)
	}

	target := "host-001"
	facts, err := store.ListFacts(ctx, &target, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list facts: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("expected 1 unexpired fact, got %d", len(facts))
	}

	byKey, err := store.ListFacts(ctx, nil, nil, -1, 0, "architecture", "os_family", "kernel")
	if err != nil {
		t.Fatalf("failed to list facts by key: %v", err)
	}
	if len(byKey) != 1 || byKey[0].Key != "architecture" {
		t.Errorf("expected only the architecture fact, got %+v", byKey)
	}

	deleted, err := store.DeleteExpiredFacts(ctx)
	if err != nil {
		t.Fatalf("failed to delete expired facts: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted fact, got %d", deleted)
	}
}

func TestAuditOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	targetID := "r1"
	details := `{"config":"/etc/mongod.conf"}`
	entries := []*AuditEntry{
		{Action: "render.recorded", Actor: "alice", TargetID: &targetID, Details: &details, Timestamp: time.Now()},
		{Action: "facts.collected", Actor: "alice", Timestamp: time.Now()},
		{Action: "render.recorded", Actor: "bob", Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := store.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected audit entry ID to be set")
		}
	}

	action := "render.recorded"
	got, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 render entries, got %d", len(got))
	}

	actor := "alice"
	got, err = store.ListAuditEntries(ctx, nil, &actor, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 entries for alice, got %d", len(got))
	}
}

func TestCreateRenderWithAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	render := &Render{
		ID:         "r-1",
		Target:     "db1",
		Ensure:     "present",
		InputHash:  "in",
		ConfigHash: "cfg",
		Artifacts:  "{}",
		CreatedAt:  time.Now(),
	}
	entry := &AuditEntry{Action: "render.recorded", Actor: "ops", TargetID: &render.ID, Timestamp: time.Now()}

	if err := store.CreateRenderWithAudit(ctx, render, entry); err != nil {
		t.Fatalf("CreateRenderWithAudit: %v", err)
	}
	if entry.ID == 0 {
		t.Error("audit entry ID not set")
	}

	// A failed render insert records nothing.
	again := &AuditEntry{Action: "render.duplicate", Actor: "ops", Timestamp: time.Now()}
	if err := store.CreateRenderWithAudit(ctx, render, again); err == nil {
		t.Fatal("expected duplicate render ID to fail")
	}

	action := "render.duplicate"
	got, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no audit rows for the failed render, got %d", len(got))
	}
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{"file", Config{Path: "a.db"}, Config{Path: "a.db", MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: 5 * time.Minute}},
		{"memory pinned to one connection", Config{Path: ":memory:", MaxOpenConns: 8}, Config{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}},
		{"explicit kept", Config{Path: "b.db", MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Second}, Config{Path: "b.db", MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if dsn := (Config{Path: "x.db"}).dsn(); !strings.HasPrefix(dsn, "x.db?_txlock=immediate&_pragma=foreign_keys(1)") {
		t.Errorf("dsn = %q", dsn)
	}
}
