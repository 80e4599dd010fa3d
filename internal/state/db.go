// Package state persists Coffer's data in two SQLite files. state.db holds
// what must survive (runtime config, refresh-checked marks); cache.db holds
// what can be re-downloaded (tabs, items, key/value data).
package state

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/state/*.sql migrations/cache/*.sql
var migrationsFS embed.FS

// database names one SQLite file and the migration set that shapes it.
type database struct {
	file       string
	migrations string
}

var (
	stateDatabase = database{file: "state.db", migrations: "migrations/state"}
	cacheDatabase = database{file: "cache.db", migrations: "migrations/cache"}
)

// Applied to every pooled connection through the driver DSN.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

func dsn(path string) string {
	q := url.Values{"_pragma": connPragmas}
	return "file:" + path + "?" + q.Encode()
}

// open creates dir if needed, opens the database file inside it and
// brings its schema up to date.
func (d database) open(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, d.file)
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time; a single connection keeps SQLite from
	// returning SQLITE_BUSY to ourselves.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := d.migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d database) migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, d.migrations)
	if err != nil {
		return fmt.Errorf("%s migrations: %w", d.file, err)
	}
	target, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s migrations: %w", d.file, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("%s migrations: %w", d.file, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s migrations: %w", d.file, err)
	}
	return nil
}
