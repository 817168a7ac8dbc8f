// Package cache implements persistent key-value stores for model blobs.
//
// Values are immutable once written and are only ever replaced wholesale.
// A Store never returns partial bytes: a value is either the exact byte
// sequence that was passed to Put, ErrNotFound, or an *AccessError.
//
// Concurrent readers are always safe. Concurrent writers of the same key are
// idempotent, the last completed write wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key is not present in the store.
	ErrNotFound = errors.New("cache: not found")

	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrDigestMismatch is returned when stored bytes no longer match the
	// digest recorded at write time.
	ErrDigestMismatch = errors.New("cache: digest mismatch")
)

// Entry contains metadata about a stored value.
type Entry struct {
	Key    string
	Size   int64
	Digest string    // hex sha256 of the value
	Time   time.Time // when the value was written
}

// Store is a persistent key-value store for blobs.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Stat returns metadata for key, or ErrNotFound.
	Stat(ctx context.Context, key string) (Entry, error)

	Close() error
}

// AccessError reports a store failure other than a plain miss.
type AccessError struct {
	Op  string
	Key string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// wrap turns err into an *AccessError unless it is nil or a miss.
func wrap(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return err
	}
	return &AccessError{Op: op, Key: key, Err: err}
}

// Sum returns the hex encoded sha256 of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

const sumSuffix = ".sha256"

func validKey(key string) error {
	switch {
	case key == "",
		strings.ContainsAny(key, `/\`),
		strings.HasPrefix(key, "."),
		strings.HasSuffix(key, sumSuffix):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Kinds lists the store implementations accepted by Open.
var Kinds = []string{"disk", "badger", "sqlite", "memory"}

// Open opens the store of the given kind rooted at dir.
func Open(kind, dir string) (Store, error) {
	switch kind {
	case "", "disk":
		return OpenDisk(dir)
	case "badger":
		cfg := DefaultBadgerConfig()
		cfg.Path = filepath.Join(dir, "badger")
		cfg.Logger = slog.Default().With("store", "badger")
		return OpenBadger(cfg)
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "models.db"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("cache: unknown store kind %q (want one of %s)", kind, strings.Join(Kinds, ", "))
	}
}
