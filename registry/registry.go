// Package registry describes the models tuziyo knows how to fetch.
//
// A Registry is an immutable value built once at startup and passed to the
// components that need it, so tests can substitute their own descriptors.
package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tuziyo/tuziyo/huggingface"
)

// Type is the logical name of a model.
type Type string

const (
	Inpainting Type = "inpainting"
	Upscaling  Type = "upscaling"
)

// ErrUnknownModel is returned by Lookup for types that are not registered.
var ErrUnknownModel = errors.New("unknown model type")

// Descriptor identifies a retrievable model.
type Descriptor struct {
	Type     Type   `yaml:"-" json:"type"`
	URL      string `yaml:"url" json:"url"`
	CacheKey string `yaml:"cache_key" json:"cache_key"`
	Name     string `yaml:"name" json:"name"`

	// Digest is an optional hex sha256 of the model bytes. When set, downloads
	// that do not match are rejected.
	Digest string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
}

func (d Descriptor) validate() error {
	switch {
	case d.Type == "":
		return errors.New("registry: empty model type")
	case d.URL == "":
		return fmt.Errorf("registry: %s: empty url", d.Type)
	case d.CacheKey == "":
		return fmt.Errorf("registry: %s: empty cache key", d.Type)
	case strings.ContainsAny(d.CacheKey, `/\`) || d.CacheKey == "." || d.CacheKey == "..":
		return fmt.Errorf("registry: %s: invalid cache key %q", d.Type, d.CacheKey)
	}

	if huggingface.IsRef(d.URL) {
		if _, err := huggingface.ParseRef(d.URL); err != nil {
			return fmt.Errorf("registry: %s: %w", d.Type, err)
		}
	}

	if d.Digest != "" {
		if b, err := hex.DecodeString(d.Digest); err != nil || len(b) != 32 {
			return fmt.Errorf("registry: %s: invalid sha256 %q", d.Type, d.Digest)
		}
	}

	return nil
}

// DisplayName returns Name, or the type when no name is set.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.Type)
}

// Registry maps model types to descriptors.
type Registry struct {
	models map[Type]Descriptor
}

// New builds a registry from descriptors. Duplicate types and invalid
// descriptors are rejected.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{models: make(map[Type]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, ok := r.models[d.Type]; ok {
			return nil, fmt.Errorf("registry: duplicate model type %q", d.Type)
		}
		r.models[d.Type] = d
	}
	return r, nil
}

// Builtin returns the descriptors shipped with tuziyo.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Type:     Inpainting,
			URL:      "https://s3.tuziyo.com/migan_pipeline_v2.onnx",
			CacheKey: "migan_pipeline_v2.onnx",
			Name:     "MIGAN Inpainting V2",
		},
		{
			Type:     Upscaling,
			URL:      "https://s3.tuziyo.com/real_esrgan_v3.onnx",
			CacheKey: "real_esrgan_v3.onnx",
			Name:     "Real-ESRGAN V3",
		},
	}
}

// Default returns a registry holding the builtin models.
func Default() *Registry {
	r, err := New(Builtin()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered for t.
func (r *Registry) Lookup(t Type) (Descriptor, error) {
	d, ok := r.models[t]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, t)
	}
	return d, nil
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []Type {
	return slices.Sorted(maps.Keys(r.models))
}

// Descriptors returns all descriptors ordered by type.
func (r *Registry) Descriptors() []Descriptor {
	ds := make([]Descriptor, 0, len(r.models))
	for _, t := range r.Types() {
		ds = append(ds, r.models[t])
	}
	return ds
}

type file struct {
	Models map[Type]Descriptor `yaml:"models"`
}

// Parse reads a YAML document of the form
//
//	models:
//	  inpainting:
//	    url: https://example.com/model.onnx
//	    cache_key: model.onnx
//	    name: Example
//
// and returns the builtin models overridden by (or extended with) its entries.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	merged := make(map[Type]Descriptor)
	for _, d := range Builtin() {
		merged[d.Type] = d
	}
	for t, d := range f.Models {
		d.Type = t
		merged[t] = d
	}

	return New(slices.Collect(maps.Values(merged))...)
}

// Load reads a registry file from disk. An empty path yields Default().
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}
