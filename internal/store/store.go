// Package store is the sqlite persistence layer for the sync server: users,
// registered devices, the append-only change log, sync sessions, conflict
// records, and the business tables the change log replays into.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the server database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens the database at dbPath, creating and initializing it if needed,
// and runs any pending migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{conn: conn, path: dbPath}

	if _, err := s.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Ping checks the database connection is alive.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Begin starts a new transaction. Each pushed change is applied inside its
// own transaction so the conflict read and the log write cannot be
// interleaved with a competing write for the same record.
func (s *Store) Begin() (*sql.Tx, error) {
	return s.conn.Begin()
}

// DB exposes the underlying handle for read-only callers (monitor, snapshots).
func (s *Store) DB() *sql.DB {
	return s.conn
}

// RunMigrations runs any pending database migrations.
func (s *Store) RunMigrations() (int, error) {
	if _, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion := s.getSchemaVersion()

	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	for _, m := range Migrations {
		if m.Version > currentVersion {
			if _, err := s.conn.Exec(m.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := s.setSchemaVersion(m.Version); err != nil {
				return migrationsRun, fmt.Errorf("set version %d: %w", m.Version, err)
			}
			migrationsRun++
		}
	}

	if currentVersion == 0 {
		if err := s.setSchemaVersion(SchemaVersion); err != nil {
			return migrationsRun, err
		}
	}

	return migrationsRun, nil
}

func (s *Store) getSchemaVersion() int {
	var version string
	err := s.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		return 0
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// generateID creates a prefixed ID with 8 random hex chars.
func generateID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s", prefix, hex.EncodeToString(b)), nil
}
