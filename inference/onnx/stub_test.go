//go:build !cgo

package onnx

import (
	"errors"
	"testing"

	"github.com/tuziyo/tuziyo/discover"
)

func TestStub(t *testing.T) {
	_, err := New(Options{}).NewSession([]byte("model"), discover.CPU)
	if !errors.Is(err, ErrCGORequired) {
		t.Fatalf("expected ErrCGORequired, got %v", err)
	}
}
