// Package discover probes the execution backends an inference session can
// be built on.
package discover

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sys/cpu"

	"github.com/tuziyo/tuziyo/envconfig"
)

// Backend is an execution strategy of the inference runtime.
type Backend string

const (
	CUDA   Backend = "cuda"
	CoreML Backend = "coreml"
	CPU    Backend = "cpu"
)

// Accelerated reports whether b runs on dedicated hardware.
func (b Backend) Accelerated() bool {
	return b != CPU
}

// Device describes one compute device.
type Device struct {
	Backend  Backend  `json:"backend"`
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Features []string `json:"features,omitempty"`
	Default  bool     `json:"default,omitempty"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d (%s)", d.Backend, d.ID, d.Name)
}

// Detector probes a single accelerated backend.
type Detector interface {
	// Detect reports whether the backend is usable on this machine.
	Detect() bool

	// Devices lists the devices of the backend. It is empty if Detect is false.
	Devices() []Device

	Backend() Backend
}

// Detectors returns the detectors for this platform in priority order.
func Detectors() []Detector {
	return []Detector{newCUDADetector(), newCoreMLDetector()}
}

// Probe returns the backends to attempt, in order: every detected
// accelerated backend, then CPU. With noGPU only CPU is returned.
func Probe(detectors []Detector, noGPU bool) []Backend {
	var backends []Backend
	if !noGPU {
		for _, d := range detectors {
			if d.Backend() == CPU || slices.Contains(backends, d.Backend()) {
				continue
			}
			if d.Detect() {
				backends = append(backends, d.Backend())
			}
		}
	}
	return append(backends, CPU)
}

// Backends probes this machine honoring TUZIYO_NOGPU.
func Backends() []Backend {
	backends := Probe(Detectors(), envconfig.NoGPU())
	slog.Debug("probed execution backends", "backends", backends)
	return backends
}

// Devices lists every device on this machine, CPU last.
func Devices() []Device {
	var devices []Device
	if !envconfig.NoGPU() {
		for _, d := range Detectors() {
			if d.Detect() {
				devices = append(devices, d.Devices()...)
			}
		}
	}
	return append(devices, CPUDevice())
}

// CPUDevice describes the host processor.
func CPUDevice() Device {
	return Device{
		Backend:  CPU,
		Name:     fmt.Sprintf("%s/%s, %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
		Features: cpuFeatures(),
		Default:  true,
	}
}

func cpuFeatures() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512VNNI, "avx512vnni")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "neon")
		add(cpu.ARM64.HasFPHP, "fp16")
		add(cpu.ARM64.HasASIMDDP, "dotprod")
		add(cpu.ARM64.HasSVE, "sve")
	}

	return features
}
