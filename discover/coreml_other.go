//go:build !darwin

package discover

type coremlDetector struct{}

func newCoreMLDetector() Detector { return coremlDetector{} }

func (coremlDetector) Backend() Backend  { return CoreML }
func (coremlDetector) Detect() bool      { return false }
func (coremlDetector) Devices() []Device { return nil }
