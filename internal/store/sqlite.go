// Package store provides persistence for the knowledge base index.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Opts holds configuration for the SQLite store.
type Opts struct {
	DSN string
}

// Option configures the SQLite store.
type Option func(*Opts)

// WithDSN sets the database file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// SQLiteStore persists knowledge index entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// If the parent directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore invoked", "dsn_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("store.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("store.NewSQLiteStore: failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("store.NewSQLiteStore: SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("store.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("store.NewSQLiteStore: SQLite store ready")
	return &SQLiteStore{db: db}, nil
}

// ReplaceEntries atomically swaps the full entry set and metadata in one
// transaction, so concurrent readers never observe a partial index.
func (s *SQLiteStore) ReplaceEntries(entries []Entry, meta IndexMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM kb_entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO kb_entries (tag, pattern, response, embedding) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Tag, e.Pattern, e.Response, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("insert entry for tag %q: %w", e.Tag, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO kb_index_meta (id, engine, dimensions, indexed_at) VALUES (1, ?, ?, ?)",
		meta.Engine, meta.Dimensions, meta.IndexedAt,
	); err != nil {
		return fmt.Errorf("save index meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace transaction: %w", err)
	}
	slog.Info("store.ReplaceEntries: index persisted", "entries", len(entries), "engine", meta.Engine)
	return nil
}

// LoadEntries returns all entries and the metadata of the last build.
func (s *SQLiteStore) LoadEntries() ([]Entry, IndexMeta, error) {
	var meta IndexMeta
	row := s.db.QueryRow("SELECT engine, dimensions, indexed_at FROM kb_index_meta WHERE id = 1")
	if err := row.Scan(&meta.Engine, &meta.Dimensions, &meta.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, IndexMeta{}, nil
		}
		return nil, IndexMeta{}, fmt.Errorf("load index meta: %w", err)
	}

	rows, err := s.db.Query("SELECT tag, pattern, response, embedding FROM kb_entries ORDER BY id")
	if err != nil {
		return nil, IndexMeta{}, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.Tag, &e.Pattern, &e.Response, &blob); err != nil {
			return nil, IndexMeta{}, fmt.Errorf("scan entry: %w", err)
		}
		e.Vector = decodeVector(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, IndexMeta{}, fmt.Errorf("iterate entries: %w", err)
	}

	slog.Debug("store.LoadEntries: index loaded", "entries", len(entries), "engine", meta.Engine)
	return entries, meta, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
