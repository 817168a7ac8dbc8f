package discover

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// cudaDetector finds NVIDIA GPUs through the kernel driver's procfs entries.
// The onnxruntime CUDA provider needs the driver, so its absence rules the
// backend out without loading any library.
type cudaDetector struct {
	root   string
	lookup func(string) (string, bool)
}

func newCUDADetector() Detector {
	return &cudaDetector{root: "/proc/driver/nvidia", lookup: os.LookupEnv}
}

func (d *cudaDetector) Backend() Backend { return CUDA }

func (d *cudaDetector) Detect() bool {
	return len(d.Devices()) > 0
}

func (d *cudaDetector) Devices() []Device {
	visible, restricted := d.visible()
	if restricted && len(visible) == 0 {
		return nil
	}

	gpus, err := filepath.Glob(filepath.Join(d.root, "gpus", "*", "information"))
	if err != nil {
		return nil
	}
	slices.Sort(gpus)

	var devices []Device
	for i, info := range gpus {
		if restricted && !slices.Contains(visible, i) {
			continue
		}
		devices = append(devices, Device{
			Backend: CUDA,
			ID:      i,
			Name:    gpuModel(info),
			Default: len(devices) == 0,
		})
	}
	return devices
}

// visible parses CUDA_VISIBLE_DEVICES. An empty value or -1 hides every
// device. Values that are not index lists (e.g. GPU UUIDs) are not
// interpreted and leave all devices visible.
func (d *cudaDetector) visible() (indices []int, restricted bool) {
	v, ok := d.lookup("CUDA_VISIBLE_DEVICES")
	if !ok {
		return nil, false
	}

	v = strings.TrimSpace(v)
	if v == "" {
		return nil, true
	}

	for _, s := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		if n < 0 {
			// everything from the first invalid index on is hidden
			break
		}
		indices = append(indices, n)
	}
	return indices, true
}

func gpuModel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "NVIDIA GPU"
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if k, v, ok := strings.Cut(s.Text(), ":"); ok && strings.TrimSpace(k) == "Model" {
			return strings.TrimSpace(v)
		}
	}
	return "NVIDIA GPU"
}
