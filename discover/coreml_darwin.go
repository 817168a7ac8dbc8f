package discover

import "runtime"

// coremlDetector reports CoreML, which every supported macOS release ships.
type coremlDetector struct{}

func newCoreMLDetector() Detector { return coremlDetector{} }

func (coremlDetector) Backend() Backend { return CoreML }

func (coremlDetector) Detect() bool { return true }

func (coremlDetector) Devices() []Device {
	name := "CoreML"
	if runtime.GOARCH == "arm64" {
		name = "Apple Neural Engine / GPU"
	}
	return []Device{{Backend: CoreML, Name: name, Default: true}}
}
