// Package store keeps the fixture data the OSEM API serves: organizations,
// land polygons and named reference layers, in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of polygons to buffer before flushing to the database.
	DefaultBatchSize = 200
)

// ErrNotFound is returned when a named row does not exist.
var ErrNotFound = errors.New("not found")

// Store reads and writes the fixture database.
type Store struct {
	db        *sql.DB
	path      string
	readOnly  bool
	batch     []Polygon
	batchSize int
	mu        sync.Mutex
}

// Open opens (or creates) a fixture database for reading and writing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps WAL checkpoints simple under the import pool.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{
		db:        db,
		path:      path,
		batch:     make([]Polygon, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
	}, nil
}

// OpenReadOnly opens an existing fixture database without write access.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('organizations','polygons','layers')",
	).Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count != 3 {
		db.Close()
		return nil, fmt.Errorf("database %s is not a fixture store", path)
	}

	return &Store{db: db, path: path, readOnly: true}, nil
}

// createSchema creates the fixture tables.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT PRIMARY KEY,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS organizations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			website TEXT,
			country TEXT,
			description TEXT,
			logo_url TEXT,
			email TEXT,
			gps_lat REAL,
			gps_lon REAL
		);

		CREATE TABLE IF NOT EXISTS polygons (
			id TEXT PRIMARY KEY,
			name TEXT,
			project_id TEXT,
			land_id TEXT,
			status TEXT,
			area REAL,
			geometry TEXT NOT NULL,
			min_lon REAL NOT NULL,
			min_lat REAL NOT NULL,
			max_lon REAL NOT NULL,
			max_lat REAL NOT NULL
		);

		CREATE INDEX IF NOT EXISTS polygons_bbox ON polygons (min_lon, max_lon, min_lat, max_lat);

		CREATE TABLE IF NOT EXISTS layers (
			name TEXT PRIMARY KEY,
			feature_count INTEGER NOT NULL,
			data BLOB NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetMetadata stores a key/value pair, replacing any previous value.
func (s *Store) SetMetadata(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", name, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", name, err)
	}
	return nil
}

// Metadata returns all stored key/value pairs.
func (s *Store) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		meta[name] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata: %w", err)
	}
	return meta, nil
}

// Stats is a row count per table.
type Stats struct {
	Organizations int
	Polygons      int
	Layers        int
}

// Stats counts the stored rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"organizations", &st.Organizations},
		{"polygons", &st.Polygons},
		{"layers", &st.Layers},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return st, nil
}

// Close flushes buffered polygons and closes the database.
func (s *Store) Close() error {
	if !s.readOnly {
		if err := s.Flush(); err != nil {
			s.db.Close()
			return fmt.Errorf("failed to flush on close: %w", err)
		}
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
