//go:build !linux

package discover

type cudaDetector struct{}

func newCUDADetector() Detector { return cudaDetector{} }

func (cudaDetector) Backend() Backend  { return CUDA }
func (cudaDetector) Detect() bool      { return false }
func (cudaDetector) Devices() []Device { return nil }
