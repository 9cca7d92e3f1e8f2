package docstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists documents in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := runMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func runMigrations(dbPath string) error {
	// migrate closes the handle it is given, so it gets its own.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (Document, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path = ?`, path).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, classifySQLite(err)
	}
	return Document{Path: path, Data: json.RawMessage(data), Version: strconv.FormatInt(version, 10)}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, path string, value any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	const query = `
        INSERT INTO documents (path, parent, data, version, updated_at)
        VALUES (?, ?, ?, 1, ?)
        ON CONFLICT(path) DO UPDATE
            SET data = excluded.data, version = documents.version + 1, updated_at = excluded.updated_at
        RETURNING version`
	var version int64
	if err := s.db.QueryRowContext(ctx, query, path, parentOf(path), string(data), time.Now().Unix()).Scan(&version); err != nil {
		return "", classifySQLite(err)
	}
	return strconv.FormatInt(version, 10), nil
}

func (s *SQLiteStore) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	expected, err := parseVersion(ifVersion)
	if err != nil {
		return "", err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	const query = `
        UPDATE documents
        SET data = json_patch(data, ?), version = version + 1, updated_at = ?
        WHERE path = ? AND (? = 0 OR version = ?)
        RETURNING version`
	var version int64
	err = s.db.QueryRowContext(ctx, query, string(patch), time.Now().Unix(), path, expected, expected).Scan(&version)
	if err == nil {
		return strconv.FormatInt(version, 10), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", classifySQLite(err)
	}
	if _, getErr := s.Get(ctx, path); getErr != nil {
		return "", getErr
	}
	return "", ErrVersionConflict
}

func (s *SQLiteStore) Children(ctx context.Context, path string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, data, version FROM documents WHERE parent = ? ORDER BY path`, path)
	if err != nil {
		return nil, classifySQLite(err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var (
			p       string
			data    string
			version int64
		)
		if err := rows.Scan(&p, &data, &version); err != nil {
			return nil, classifySQLite(err)
		}
		out = append(out, Document{Path: p, Data: json.RawMessage(data), Version: strconv.FormatInt(version, 10)})
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(err)
	}
	return out, nil
}

// classifySQLite marks lock contention and timeouts as unavailable.
func classifySQLite(err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
