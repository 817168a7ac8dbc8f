package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DiskStore stores values as files on disk.
//
// The store is rooted at a directory, which is created if it does not exist.
// Every value has a sidecar file holding its sha256, which is checked on
// every read:
//
//	<dir>/
//	  blobs/
//	    <key>          - value
//	    <key>.sha256   - hex digest of value
//
// Both files are written to a temporary name first and renamed into place,
// value before sidecar, so readers never observe a partially written value
// and a failed Put keeps the previous one.
type DiskStore struct {
	dir string
	now func() time.Time

	testHookBeforeFinalWrite func(f *os.File)
}

// OpenDisk opens a disk store rooted at dir.
func OpenDisk(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("cache: empty directory name")
	}

	info, err := os.Stat(dir)
	if err == nil && !info.IsDir() {
		return nil, fmt.Errorf("cache: %q is not a directory", dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, err
	}

	return &DiskStore{dir: dir, now: time.Now}, nil
}

func (s *DiskStore) file(key string) string {
	return absJoin(s.dir, "blobs", key)
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, wrap("get", key, err)
	}

	want, err := s.readSum(key)
	if err != nil {
		return nil, wrap("get", key, err)
	}

	data, err := os.ReadFile(s.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, wrap("get", key, err)
	}

	if got := sha256.Sum256(data); hex.EncodeToString(got[:]) != want {
		return nil, wrap("get", key, ErrDigestMismatch)
	}

	return data, nil
}

func (s *DiskStore) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return wrap("put", key, err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	// Both files are staged before either is renamed, so a failed write
	// leaves the previous value and its digest in place.
	value, err := s.stage(s.file(key), data, sum)
	if err != nil {
		return wrap("put", key, err)
	}
	defer os.Remove(value)

	sidecar, err := s.stage(s.file(key)+sumSuffix, []byte(digest), sha256.Sum256([]byte(digest)))
	if err != nil {
		return wrap("put", key, err)
	}
	defer os.Remove(sidecar)

	// The sidecar is renamed last: a reader between the two renames sees the
	// new value next to the old digest and reports a mismatch.
	for _, r := range [][2]string{{value, s.file(key)}, {sidecar, s.file(key) + sumSuffix}} {
		if err := os.Rename(r[0], r[1]); err != nil {
			return wrap("put", key, err)
		}
		os.Chtimes(r[1], s.now(), s.now()) // mainly for tests
	}

	return nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return wrap("delete", key, err)
	}

	for _, name := range []string{s.file(key), s.file(key) + sumSuffix} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return wrap("delete", key, err)
		}
	}
	return nil
}

func (s *DiskStore) Stat(_ context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	digest, err := s.readSum(key)
	if err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	info, err := os.Stat(s.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, wrap("stat", key, err)
	}

	return Entry{
		Key:    key,
		Size:   info.Size(),
		Digest: digest,
		Time:   info.ModTime(),
	}, nil
}

func (s *DiskStore) Close() error {
	return nil
}

func (s *DiskStore) readSum(key string) (string, error) {
	b, err := os.ReadFile(s.file(key) + sumSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}

	digest := strings.TrimSpace(string(b))
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed digest file %q", filepath.Base(s.file(key))+sumSuffix)
	}
	return digest, nil
}

// stage writes data to a temporary file next to name and returns its path
// once the content has been verified against sum. The caller renames it into
// place.
func (s *DiskStore) stage(name string, data []byte, sum [sha256.Size]byte) (_ string, err error) {
	f, err := os.CreateTemp(filepath.Dir(name), ".tmp-"+filepath.Base(name)+"-")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	cw := &checkWriter{
		size: int64(len(data)),
		sum:  sum,
		h:    sha256.New(),
		f:    f,
		w:    f,

		testHookBeforeFinalWrite: s.testHookBeforeFinalWrite,
	}
	n, err := cw.Write(data)
	if err != nil {
		return "", err
	}
	if n < len(data) {
		return "", fmt.Errorf("short write: %d < %d", n, len(data))
	}

	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func absJoin(pp ...string) string {
	abs, err := filepath.Abs(filepath.Join(pp...))
	if err != nil {
		panic(err) // this should never happen
	}
	return abs
}
