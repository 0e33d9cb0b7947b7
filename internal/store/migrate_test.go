package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestMigrator(t *testing.T, db *sql.DB) *Migrator {
	t.Helper()
	m, err := NewMigrator(db, Revisions)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	return m
}

// schemaDump returns the sorted DDL of user tables and indexes.
func schemaDump(t *testing.T, db *sql.DB) string {
	t.Helper()
	rows, err := db.Query(`SELECT name, sql FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%' AND sql IS NOT NULL ORDER BY name`)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rows.Close() }()
	var b strings.Builder
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			t.Fatal(err)
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(ddl)
		b.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestUpgradeTwiceMatchesOnce(t *testing.T) {
	ctx := context.Background()

	once := openRawDB(t)
	if err := newTestMigrator(t, once).Upgrade(ctx, Head); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	twice := openRawDB(t)
	m := newTestMigrator(t, twice)
	for i := 0; i < 2; i++ {
		if err := m.Upgrade(ctx, Head); err != nil {
			t.Fatalf("Upgrade #%d: %v", i+1, err)
		}
	}

	if a, b := schemaDump(t, once), schemaDump(t, twice); a != b {
		t.Fatalf("schema differs:\nonce:\n%s\ntwice:\n%s", a, b)
	}
	cur, err := m.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cur != m.HeadID() {
		t.Fatalf("Current = %q, want %q", cur, m.HeadID())
	}
}

func TestRevisionUpgradeIsIdempotentWithoutBookkeeping(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)
	for i := 0; i < 2; i++ {
		if err := Revisions[0].Upgrade(ctx, db); err != nil {
			t.Fatalf("direct upgrade #%d: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := Revisions[0].Downgrade(ctx, db); err != nil {
			t.Fatalf("direct downgrade #%d: %v", i+1, err)
		}
	}
	if tableExists(t, db, "chats") || tableExists(t, db, "exchanges") {
		t.Fatal("tables remain after downgrade")
	}
}

func TestUpgradeDowngradeUpgradeLeavesEmptyTables(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)
	m := newTestMigrator(t, db)

	if err := m.Upgrade(ctx, Head); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO chats (chat_id, messages) VALUES ('c1', '[]')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO exchanges (chat_id, model) VALUES ('c1', 'm')`); err != nil {
		t.Fatal(err)
	}

	if err := m.Downgrade(ctx, Base); err != nil {
		t.Fatalf("Downgrade: %v", err)
	}
	if tableExists(t, db, "chats") || tableExists(t, db, "exchanges") {
		t.Fatal("tables survived downgrade")
	}
	cur, _ := m.Current(ctx)
	if cur != "" {
		t.Fatalf("Current after downgrade = %q, want empty", cur)
	}
	// Downgrading at base is a no-op.
	if err := m.Downgrade(ctx, Base); err != nil {
		t.Fatalf("second Downgrade: %v", err)
	}

	if err := m.Upgrade(ctx, Head); err != nil {
		t.Fatalf("re-Upgrade: %v", err)
	}
	for _, table := range []string{"chats", "exchanges"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s has %d residual rows", table, n)
		}
	}
}

func TestSchemaDefaults(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)
	if err := newTestMigrator(t, db).Upgrade(ctx, Head); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO chats (chat_id) VALUES ('c')`); err != nil {
		t.Fatal(err)
	}
	var messages, updated string
	if err := db.QueryRow(`SELECT messages, updated_at FROM chats WHERE chat_id = 'c'`).Scan(&messages, &updated); err != nil {
		t.Fatal(err)
	}
	if messages != "[]" {
		t.Errorf("default messages = %q", messages)
	}
	if parseTime(updated).IsZero() {
		t.Errorf("default updated_at %q does not parse", updated)
	}

	if _, err := db.Exec(`INSERT INTO exchanges (chat_id, model) VALUES ('c', 'm')`); err != nil {
		t.Fatal(err)
	}
	var start, end string
	if err := db.QueryRow(`SELECT "start", "end" FROM exchanges`).Scan(&start, &end); err != nil {
		t.Fatal(err)
	}
	if parseTime(start).IsZero() || parseTime(end).IsZero() {
		t.Errorf("default start/end = %q/%q", start, end)
	}
}

func TestMigratorMultiRevisionChain(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)

	var applied []string
	extra := Revision{
		ID:   "0002_labels",
		Down: "0001_initial",
		Upgrade: func(ctx context.Context, db Execer) error {
			applied = append(applied, "up")
			_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS labels (chat_id TEXT, label TEXT)`)
			return err
		},
		Downgrade: func(ctx context.Context, db Execer) error {
			applied = append(applied, "down")
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS labels`)
			return err
		},
	}
	// Order in the slice does not matter; the chain is walked from the root.
	m, err := NewMigrator(db, []Revision{extra, Revisions[0]})
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	if m.HeadID() != "0002_labels" {
		t.Fatalf("HeadID = %q", m.HeadID())
	}

	if err := m.Upgrade(ctx, "0001_initial"); err != nil {
		t.Fatal(err)
	}
	if tableExists(t, db, "labels") {
		t.Fatal("labels created before its revision")
	}
	if err := m.Upgrade(ctx, Head); err != nil {
		t.Fatal(err)
	}
	if !tableExists(t, db, "labels") {
		t.Fatal("labels missing at head")
	}

	if err := m.Downgrade(ctx, "0001_initial"); err != nil {
		t.Fatal(err)
	}
	if tableExists(t, db, "labels") || !tableExists(t, db, "chats") {
		t.Fatal("partial downgrade removed the wrong tables")
	}
	cur, _ := m.Current(ctx)
	if cur != "0001_initial" {
		t.Fatalf("Current = %q", cur)
	}
	if strings.Join(applied, ",") != "up,down" {
		t.Fatalf("applied = %v", applied)
	}

	if err := m.Upgrade(ctx, "nope"); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestNewMigratorRejectsBadChains(t *testing.T) {
	noop := func(context.Context, Execer) error { return nil }
	tests := []struct {
		name string
		revs []Revision
	}{
		{"fork", []Revision{
			{ID: "a", Upgrade: noop, Downgrade: noop},
			{ID: "b", Down: "a", Upgrade: noop, Downgrade: noop},
			{ID: "c", Down: "a", Upgrade: noop, Downgrade: noop},
		}},
		{"no root", []Revision{
			{ID: "a", Down: "z", Upgrade: noop, Downgrade: noop},
		}},
		{"duplicate", []Revision{
			{ID: "a", Upgrade: noop, Downgrade: noop},
			{ID: "a", Down: "a", Upgrade: noop, Downgrade: noop},
		}},
		{"reserved id", []Revision{
			{ID: Head, Upgrade: noop, Downgrade: noop},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMigrator(nil, tt.revs); err == nil {
				t.Fatal("expected chain validation error")
			}
		})
	}
}

func TestFailedRevisionRollsBackBookkeeping(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)
	boom := errors.New("boom")
	fail := true
	bad := Revision{
		ID:   "0002_flaky",
		Down: "0001_initial",
		Upgrade: func(ctx context.Context, db Execer) error {
			if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS flaky (x INTEGER)`); err != nil {
				return err
			}
			if fail {
				return boom
			}
			return nil
		},
		Downgrade: func(ctx context.Context, db Execer) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS flaky`)
			return err
		},
	}
	m, err := NewMigrator(db, []Revision{Revisions[0], bad})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Upgrade(ctx, Head); !errors.Is(err, boom) {
		t.Fatalf("Upgrade err = %v, want boom", err)
	}
	cur, _ := m.Current(ctx)
	if cur != "0001_initial" {
		t.Fatalf("Current after failure = %q, want 0001_initial", cur)
	}

	fail = false
	if err := m.Upgrade(ctx, Head); err != nil {
		t.Fatalf("retry Upgrade: %v", err)
	}
	if cur, _ := m.Current(ctx); cur != "0002_flaky" {
		t.Fatalf("Current after retry = %q", cur)
	}
}
