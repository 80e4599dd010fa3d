package state

import (
	"database/sql"
	"testing"
)

func openTestDB(t *testing.T, d database) *sql.DB {
	t.Helper()
	db, err := d.open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableNames(t *testing.T, db *sql.DB) map[string]bool {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		names[name] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return names
}

func TestDatabaseOpen_CreatesSchema(t *testing.T) {
	tests := []struct {
		db   database
		want []string
	}{
		{stateDatabase, []string{"system_config", "refresh_checked", "schema_migrations"}},
		{cacheDatabase, []string{"data", "tabs", "items", "schema_migrations"}},
	}
	for _, tt := range tests {
		t.Run(tt.db.file, func(t *testing.T) {
			names := tableNames(t, openTestDB(t, tt.db))
			for _, table := range tt.want {
				if !names[table] {
					t.Errorf("missing table %s, have %v", table, names)
				}
			}
		})
	}
}

func TestDatabaseOpen_ReopenIsNoChange(t *testing.T) {
	dir := t.TempDir()
	for i := range 2 {
		db, err := stateDatabase.open(dir)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		db.Close()
	}
}

func TestDatabaseOpen_PragmasApplied(t *testing.T) {
	db := openTestDB(t, cacheDatabase)
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode: got %q, want wal", mode)
	}
	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys: got %d, want 1", fk)
	}
}
