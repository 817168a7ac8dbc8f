package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fakeProc(t *testing.T, models ...string) string {
	t.Helper()
	root := t.TempDir()
	for i, model := range models {
		dir := filepath.Join(root, "gpus", "0000:0"+string(rune('1'+i))+":00.0")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		info := "Model: \t\t " + model + "\nIRQ:   \t\t 130\nBus Type: \t PCIe\n"
		if err := os.WriteFile(filepath.Join(dir, "information"), []byte(info), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestCUDADetector(t *testing.T) {
	root := fakeProc(t, "NVIDIA GeForce RTX 3090", "NVIDIA A100")

	cases := []struct {
		name string
		env  map[string]string
		want []Device
	}{
		{
			name: "all visible",
			env:  map[string]string{},
			want: []Device{
				{Backend: CUDA, ID: 0, Name: "NVIDIA GeForce RTX 3090", Default: true},
				{Backend: CUDA, ID: 1, Name: "NVIDIA A100"},
			},
		},
		{
			name: "restricted",
			env:  map[string]string{"CUDA_VISIBLE_DEVICES": "1"},
			want: []Device{
				{Backend: CUDA, ID: 1, Name: "NVIDIA A100", Default: true},
			},
		},
		{
			name: "hidden",
			env:  map[string]string{"CUDA_VISIBLE_DEVICES": "-1"},
		},
		{
			name: "empty hides",
			env:  map[string]string{"CUDA_VISIBLE_DEVICES": ""},
		},
		{
			name: "uuids not interpreted",
			env:  map[string]string{"CUDA_VISIBLE_DEVICES": "GPU-8932f937"},
			want: []Device{
				{Backend: CUDA, ID: 0, Name: "NVIDIA GeForce RTX 3090", Default: true},
				{Backend: CUDA, ID: 1, Name: "NVIDIA A100"},
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			d := &cudaDetector{root: root, lookup: env(tt.env)}
			if diff := cmp.Diff(tt.want, d.Devices()); diff != "" {
				t.Errorf("devices mismatch (-want +got):\n%s", diff)
			}
			if d.Detect() != (len(tt.want) > 0) {
				t.Errorf("expected Detect() = %t", len(tt.want) > 0)
			}
		})
	}
}

func TestCUDADetectorNoDriver(t *testing.T) {
	d := &cudaDetector{root: filepath.Join(t.TempDir(), "missing"), lookup: env(nil)}
	if d.Detect() {
		t.Fatal("expected no cuda without driver")
	}
}
