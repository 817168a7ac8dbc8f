// Package huggingface resolves model references on the Hugging Face Hub.
//
// A hub reference has the form
//
//	hf://owner/repo/path/to/model.onnx
//	hf://owner/repo/path/to/model.onnx@revision
//
// and resolves to the file's download URL on the hub endpoint.
package huggingface

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	Scheme = "hf://"

	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"

	EnvToken    = "HF_TOKEN"
	EnvEndpoint = "HF_ENDPOINT"
)

var ErrInvalidReference = errors.New("invalid hub reference")

// Ref is a parsed hub reference.
type Ref struct {
	Repo     string
	File     string
	Revision string
}

// IsRef reports whether s is a hub reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseRef parses an hf:// reference.
func ParseRef(s string) (Ref, error) {
	rest, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return Ref{}, fmt.Errorf("%w %q: missing %s prefix", ErrInvalidReference, s, Scheme)
	}

	ref := Ref{Revision: DefaultRevision}
	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		ref.Revision = rest[i+1:]
		rest = rest[:i]
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" || ref.Revision == "" {
		return Ref{}, fmt.Errorf("%w %q: want hf://owner/repo/file[@revision]", ErrInvalidReference, s)
	}

	ref.Repo = parts[0] + "/" + parts[1]
	ref.File = parts[2]
	return ref, nil
}

// Endpoint returns the hub endpoint. Configurable via HF_ENDPOINT.
func Endpoint() string {
	if s := strings.TrimSpace(os.Getenv(EnvEndpoint)); s != "" {
		return strings.TrimSuffix(s, "/")
	}
	return DefaultEndpoint
}

// URL returns the download URL of ref on endpoint.
func (r Ref) URL(endpoint string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(endpoint, "/"), r.Repo, url.PathEscape(r.Revision), r.File)
}

// ResolveURL returns s unchanged unless it is a hub reference, in which case
// it returns the download URL on the configured endpoint.
func ResolveURL(s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}

	ref, err := ParseRef(s)
	if err != nil {
		return "", err
	}
	return ref.URL(Endpoint()), nil
}

// Authorize adds the HF_TOKEN bearer token to requests for the hub
// endpoint. Requests to other hosts are left alone.
func Authorize(req *http.Request) {
	token := strings.TrimSpace(os.Getenv(EnvToken))
	if token == "" {
		return
	}

	endpoint, err := url.Parse(Endpoint())
	if err != nil || endpoint.Host != req.URL.Host {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
