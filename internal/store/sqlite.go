package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema contains the DDL executed on open. IF NOT EXISTS makes it
// safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    target      TEXT NOT NULL,
    idx         INTEGER NOT NULL,
    raw         BLOB NOT NULL,
    fingerprint TEXT NOT NULL,
    stamp       TEXT NOT NULL,
    format      TEXT NOT NULL DEFAULT '',
    trace       TEXT,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (target, idx)
);
`

// SQLite is a persistent Store backed by a local SQLite database. It
// is what makes caching survive across processes: a re-run against an
// unchanged plan reuses every entry without executing a command.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath, enables WAL
// mode and a busy timeout, and creates the schema if needed.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite only supports a single writer; one pooled connection
	// avoids SQLITE_BUSY contention between connections that each
	// need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Write creates or overwrites the entry for key.
func (s *SQLite) Write(ctx context.Context, key Key, entry Entry) error {
	var trace sql.NullString
	if entry.HasTrace {
		trace = sql.NullString{String: entry.Trace, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (target, idx, raw, fingerprint, stamp, format, trace, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(target, idx) DO UPDATE SET
			raw = excluded.raw,
			fingerprint = excluded.fingerprint,
			stamp = excluded.stamp,
			format = excluded.format,
			trace = excluded.trace,
			updated_at = CURRENT_TIMESTAMP`,
		key.Target, key.Index, entry.Raw, entry.Fingerprint, entry.Stamp, entry.Format, trace)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}

// Read returns the entry for key, or *NotFoundError.
func (s *SQLite) Read(ctx context.Context, key Key) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT raw, fingerprint, stamp, format, trace
		FROM entries WHERE target = ? AND idx = ?`,
		key.Target, key.Index)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, &NotFoundError{Key: key}
	}
	if err != nil {
		return Entry{}, fmt.Errorf("store: read %s: %w", key, err)
	}
	return entry, nil
}

// List returns the sub-target entries of target ordered by index.
func (s *SQLite) List(ctx context.Context, target string) ([]SubEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, raw, fingerprint, stamp, format, trace
		FROM entries WHERE target = ? AND idx >= 0 ORDER BY idx`,
		target)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", target, err)
	}
	defer rows.Close()

	var subs []SubEntry
	for rows.Next() {
		var idx int
		entry, err := scanEntry(func(dest ...any) error {
			return rows.Scan(append([]any{&idx}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", target, err)
		}
		subs = append(subs, SubEntry{Index: idx, Entry: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list %s: %w", target, err)
	}
	return subs, nil
}

// Delete removes the entry for key, if present.
func (s *SQLite) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE target = ? AND idx = ?`, key.Target, key.Index)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Prune removes sub-target entries of target with index >= keep.
func (s *SQLite) Prune(ctx context.Context, target string, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE target = ? AND idx >= ?`, target, keep)
	if err != nil {
		return fmt.Errorf("store: prune %s: %w", target, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// scanEntry reads one entries row through the given scan function.
func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var entry Entry
	var trace sql.NullString
	if err := scan(&entry.Raw, &entry.Fingerprint, &entry.Stamp, &entry.Format, &trace); err != nil {
		return Entry{}, err
	}
	if trace.Valid {
		entry.Trace = trace.String
		entry.HasTrace = true
	}
	return entry, nil
}
