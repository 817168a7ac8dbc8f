package cache

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

var errContentChanged = errors.New("file content changed underfoot")

// checkWriter verifies size and digest of everything written through it. The
// last write to the underlying writer only happens after the hash of the full
// content has been checked.
type checkWriter struct {
	size int64
	sum  [sha256.Size]byte
	f    *os.File
	h    hash.Hash

	w   io.Writer // underlying writer; set by creator
	n   int64
	err error

	testHookBeforeFinalWrite func(*os.File)
}

func (w *checkWriter) seterr(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

func (w *checkWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	if _, err := w.h.Write(p); err != nil {
		return 0, w.seterr(err)
	}

	nextSize := w.n + int64(len(p))
	if nextSize > w.size {
		return 0, w.seterr(fmt.Errorf("content exceeds expected size: %d > %d", nextSize, w.size))
	}
	if nextSize == w.size {
		if !bytes.Equal(w.h.Sum(nil), w.sum[:]) {
			return 0, w.seterr(errContentChanged)
		}
		if w.testHookBeforeFinalWrite != nil {
			w.testHookBeforeFinalWrite(w.f)
		}
	}

	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, w.seterr(err)
}
