// Package onnx runs models with onnxruntime through
// github.com/yalue/onnxruntime_go.
package onnx

import (
	"errors"

	"github.com/tuziyo/tuziyo/envconfig"
)

// ErrCGORequired is returned by every operation of a binary built without cgo.
var ErrCGORequired = errors.New("onnx: cgo required but not available")

// Options configures a Runtime.
type Options struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string

	// NumThreads sets intra-op threads for the CPU backend (0 = auto).
	NumThreads int

	// DeviceID selects the CUDA device.
	DeviceID int
}

// OptionsFromEnvironment reads TUZIYO_ORT_LIBRARY and TUZIYO_NUM_THREADS.
func OptionsFromEnvironment() Options {
	return Options{
		LibraryPath: envconfig.ORTLibrary(),
		NumThreads:  int(envconfig.NumThreads()),
	}
}
