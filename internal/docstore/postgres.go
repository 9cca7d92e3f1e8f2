package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresTable = `
        CREATE TABLE IF NOT EXISTS documents (
            path       TEXT PRIMARY KEY,
            parent     TEXT NOT NULL,
            data       JSONB NOT NULL,
            version    BIGINT NOT NULL DEFAULT 1,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`

const postgresParentIndex = `CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (parent, path)`

// PostgresStore persists documents as JSONB rows keyed by path.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed document store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the documents table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresTable); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	if _, err := s.db.Exec(ctx, postgresParentIndex); err != nil {
		return fmt.Errorf("create documents index: %w", err)
	}
	return nil
}

// Get fetches the document stored at path.
func (s *PostgresStore) Get(ctx context.Context, path string) (Document, error) {
	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT data, version FROM documents WHERE path = $1`, path).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, classifyPostgres(err)
	}
	return Document{Path: path, Data: data, Version: strconv.FormatInt(version, 10)}, nil
}

// Put upserts the document body and bumps its version.
func (s *PostgresStore) Put(ctx context.Context, path string, value any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	const query = `
        INSERT INTO documents (path, parent, data, version, updated_at)
        VALUES ($1, $2, $3::jsonb, 1, now())
        ON CONFLICT (path) DO UPDATE
            SET data = EXCLUDED.data, version = documents.version + 1, updated_at = now()
        RETURNING version`
	var version int64
	if err := s.db.QueryRow(ctx, query, path, parentOf(path), string(data)).Scan(&version); err != nil {
		return "", classifyPostgres(err)
	}
	return strconv.FormatInt(version, 10), nil
}

// Patch merges fields into the stored JSONB object, optionally conditioned
// on the current version.
func (s *PostgresStore) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
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
        SET data = data || $2::jsonb, version = version + 1, updated_at = now()
        WHERE path = $1 AND ($3::bigint = 0 OR version = $3)
        RETURNING version`
	var version int64
	err = s.db.QueryRow(ctx, query, path, string(patch), expected).Scan(&version)
	if err == nil {
		return strconv.FormatInt(version, 10), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", classifyPostgres(err)
	}
	if _, getErr := s.Get(ctx, path); getErr != nil {
		return "", getErr
	}
	return "", ErrVersionConflict
}

// Children lists direct children ordered by path.
func (s *PostgresStore) Children(ctx context.Context, path string) ([]Document, error) {
	rows, err := s.db.Query(ctx, `SELECT path, data, version FROM documents WHERE parent = $1 ORDER BY path`, path)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var (
			doc     Document
			data    []byte
			version int64
		)
		if err := rows.Scan(&doc.Path, &data, &version); err != nil {
			return nil, classifyPostgres(err)
		}
		doc.Data = data
		doc.Version = strconv.FormatInt(version, 10)
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(err)
	}
	return out, nil
}

// classifyPostgres keeps server-side errors as-is and marks everything else
// (network, pool, timeouts) as unavailable.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func parseVersion(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrVersionConflict
	}
	return n, nil
}
