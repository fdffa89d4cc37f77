package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id TEXT NOT NULL,
  from_id    TEXT NOT NULL,
  from_name  TEXT NOT NULL,
  to_id      TEXT NOT NULL,
  content    TEXT NOT NULL,
  timestamp  INTEGER NOT NULL,
  is_file    INTEGER NOT NULL DEFAULT 0,
  file_name  TEXT,
  file_data  TEXT
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_participants
ON messages (from_id, to_id, seq);
`,
}

// SQLiteLog is a MessageLog kept in a private in-memory SQLite database.
// Nothing is written to disk and the contents are gone after Close.
type SQLiteLog struct {
	db        *sql.DB
	closeOnce sync.Once
}

// OpenSQLiteLog creates a fresh in-memory database and runs schema migrations.
func OpenSQLiteLog() (*SQLiteLog, error) {
	dsn := fmt.Sprintf("file:lanchat-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The in-memory database lives only as long as its connection, and a
	// single connection also serialises appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	log := &SQLiteLog{db: db}
	if err := log.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

// Close releases the database.
func (l *SQLiteLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		closeErr = l.db.Close()
	})
	return closeErr
}

func (l *SQLiteLog) schemaVersion() (int, error) {
	var version int
	if err := l.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (l *SQLiteLog) applyMigrations() error {
	version, err := l.schemaVersion()
	if err != nil {
		return err
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}
