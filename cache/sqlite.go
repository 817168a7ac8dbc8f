package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
)

// SQLiteStore stores values in a single SQLite table.
//
// SQLite does its own locking: readers run concurrently, writers are
// serialized and WAL mode keeps readers from blocking on writers.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping database: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: initialize database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.conn.Exec(`
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		digest TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, wrap("get", key, err)
	}

	var data []byte
	var digest string
	err := s.conn.QueryRowContext(ctx, "SELECT data, digest FROM blobs WHERE key = ?", key).Scan(&data, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, wrap("get", key, err)
	}

	if Sum(data) != digest {
		return nil, wrap("get", key, ErrDigestMismatch)
	}
	return data, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return wrap("put", key, err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO blobs (key, data, size, digest, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			digest = excluded.digest,
			created_at = excluded.created_at
	`, key, data, len(data), Sum(data), time.Now().UTC())
	return wrap("put", key, err)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return wrap("delete", key, err)
	}

	_, err := s.conn.ExecContext(ctx, "DELETE FROM blobs WHERE key = ?", key)
	return wrap("delete", key, err)
}

func (s *SQLiteStore) Stat(ctx context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	e := Entry{Key: key}
	err := s.conn.QueryRowContext(ctx, "SELECT size, digest, created_at FROM blobs WHERE key = ?", key).Scan(&e.Size, &e.Digest, &e.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, wrap("stat", key, err)
	}
	return e, nil
}

func (s *SQLiteStore) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}
