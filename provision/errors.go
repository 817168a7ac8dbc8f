package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/registry"
)

// ErrDigestMismatch is wrapped by a DownloadError when the received bytes do
// not match the descriptor's sha256.
var ErrDigestMismatch = errors.New("digest mismatch")

// DownloadError reports a failed or unsuccessful model fetch.
type DownloadError struct {
	URL string

	// StatusCode is the HTTP status of a non-success response, 0 otherwise.
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: %d %s", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Attempt records one failed session construction.
type Attempt struct {
	Backend discover.Backend
	Err     error
}

// ModelLoadError reports that no backend could build a session from the
// model bytes.
type ModelLoadError struct {
	Type     registry.Type
	Attempts []Attempt
}

func (e *ModelLoadError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "load %s model: all backends failed", e.Type)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %v", a.Backend, a.Err)
	}
	return sb.String()
}

func (e *ModelLoadError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
