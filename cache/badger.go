package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// Logger receives badger's internal messages. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns the configuration used by Open.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore stores values in a badger database. Each value is written
// together with a metadata record in one transaction.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

type badgerMeta struct {
	Size   int64     `json:"size"`
	Digest string    `json:"digest"`
	Time   time.Time `json:"time"`
}

func blobKey(key string) []byte { return []byte("blob/" + key) }
func metaKey(key string) []byte { return []byte("meta/" + key) }

// OpenBadger opens a badger backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache: path is required for persistent badger store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("cache: create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.gc(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) gc(interval time.Duration, ratio float64) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc", "error", err)
			}
		}
	}
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, wrap("get", key, err)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := s.meta(txn, key)
		if err != nil {
			return err
		}

		item, err := txn.Get(blobKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		if Sum(data) != meta.Digest {
			return ErrDigestMismatch
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return data, nil
}

func (s *BadgerStore) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return wrap("put", key, err)
	}

	meta, err := json.Marshal(badgerMeta{
		Size:   int64(len(data)),
		Digest: Sum(data),
		Time:   time.Now().UTC(),
	})
	if err != nil {
		return wrap("put", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(key), data); err != nil {
			return err
		}
		return txn.Set(metaKey(key), meta)
	})
	return wrap("put", key, err)
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return wrap("delete", key, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(key)); err != nil {
			return err
		}
		return txn.Delete(blobKey(key))
	})
	return wrap("delete", key, err)
}

func (s *BadgerStore) Stat(_ context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	var meta badgerMeta
	err := s.db.View(func(txn *badger.Txn) (err error) {
		meta, err = s.meta(txn, key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	return Entry{Key: key, Size: meta.Size, Digest: meta.Digest, Time: meta.Time}, nil
}

func (s *BadgerStore) meta(txn *badger.Txn, key string) (badgerMeta, error) {
	var meta badgerMeta
	item, err := txn.Get(metaKey(key))
	if err != nil {
		return meta, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	return meta, err
}

func (s *BadgerStore) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return s.db.Close()
}
