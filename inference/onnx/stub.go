//go:build !cgo

package onnx

import (
	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/inference"
)

// Runtime fails every session build without cgo.
type Runtime struct{}

func New(Options) *Runtime {
	return &Runtime{}
}

func (*Runtime) NewSession([]byte, discover.Backend) (inference.Session, error) {
	return nil, ErrCGORequired
}

func Shutdown() error {
	return nil
}
