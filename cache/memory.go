package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps values in process memory. It is used by tests and by
// `tuziyo serve` when TUZIYO_CACHE=memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data []byte
	Entry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, wrap("get", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.data), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return wrap("put", key, err)
	}

	e := memoryEntry{
		data: bytes.Clone(data),
		Entry: Entry{
			Key:    key,
			Size:   int64(len(data)),
			Digest: Sum(data),
			Time:   time.Now(),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return wrap("delete", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Stat(_ context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
