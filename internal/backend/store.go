// Package backend implements the REST backend: durable profile and
// connection storage plus the upstream transcription and drafting proxies.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the backend database with a prepared statement cache.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

// OpenStore opens (creating if needed) the backend database at path and
// runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	store := newStoreFromDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// newStoreFromDB wraps an already-open database. Migrations are the
// caller's concern.
func newStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (s *Store) migrate() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS profiles (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			linkedin_url TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			company      TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS connections (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			contact_name     TEXT NOT NULL,
			contact_linkedin TEXT NOT NULL DEFAULT '',
			contact_email    TEXT NOT NULL DEFAULT '',
			contact_title    TEXT NOT NULL DEFAULT '',
			contact_company  TEXT NOT NULL DEFAULT '',
			event_name       TEXT NOT NULL DEFAULT '',
			event_type       TEXT NOT NULL DEFAULT '',
			person_category  TEXT NOT NULL DEFAULT '',
			voice_transcript TEXT NOT NULL DEFAULT '',
			notes            TEXT NOT NULL DEFAULT '',
			ai_message       TEXT NOT NULL DEFAULT '',
			recording_mode   TEXT NOT NULL DEFAULT '',
			latitude         REAL,
			longitude        REAL,
			connection_sent  INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetStmt returns a cached prepared statement for the query, preparing it
// on first use.
func (s *Store) GetStmt(query string) (*sql.Stmt, error) {
	s.mu.RLock()
	stmt, ok := s.stmts[query]
	s.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// ExecContext executes the query through the statement cache.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs the query through the statement cache.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs the single-row query through the statement cache.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		// Let the caller observe the prepare failure through Scan.
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Close releases cached statements and the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	return s.db.Close()
}
