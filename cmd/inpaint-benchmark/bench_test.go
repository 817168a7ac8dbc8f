package main

import (
	"bytes"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/inference"
	"github.com/tuziyo/tuziyo/inference/inferencetest"
)

func TestParseSizes(t *testing.T) {
	cases := []struct {
		in      string
		want    []image.Point
		wantErr bool
	}{
		{in: "512x512", want: []image.Point{{512, 512}}},
		{in: " 64x32, 1024x768 ,", want: []image.Point{{64, 32}, {1024, 768}}},
		{in: "", wantErr: true},
		{in: "512", wantErr: true},
		{in: "0x10", wantErr: true},
	}

	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSizes(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("sizes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseBackends(t *testing.T) {
	got := parseBackends("CUDA, cpu,,")
	if diff := cmp.Diff([]discover.Backend{discover.CUDA, discover.CPU}, got); diff != "" {
		t.Errorf("backends mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	samples := make([]float64, 0, 20)
	for i := 20; i > 0; i-- {
		samples = append(samples, float64(time.Duration(i)*time.Millisecond))
	}

	r := summarize(image.Pt(1000, 1000), samples)
	if r.Iterations != 20 {
		t.Errorf("iterations = %d", r.Iterations)
	}
	if r.Min != time.Millisecond || r.Max != 20*time.Millisecond {
		t.Errorf("min/max = %v/%v", r.Min, r.Max)
	}
	if want := 10500 * time.Microsecond; r.Avg != want {
		t.Errorf("avg = %v, want %v", r.Avg, want)
	}
	if r.P95 != 19*time.Millisecond {
		t.Errorf("p95 = %v", r.P95)
	}
	// one megapixel in 10.5ms
	if want := 1 / 0.0105; r.Throughput < want-1e-6 || r.Throughput > want+1e-6 {
		t.Errorf("throughput = %v, want %v", r.Throughput, want)
	}

	if empty := summarize(image.Pt(1, 1), nil); empty.Avg != 0 || empty.Throughput != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestRun(t *testing.T) {
	rt := &inferencetest.Runtime{Fail: map[discover.Backend]error{discover.CUDA: errors.New("no device")}}

	var warnings []string
	warn := func(msg string, args ...any) { warnings = append(warnings, msg) }

	results, err := run(t.Context(), config{
		Backends:   []discover.Backend{discover.CUDA, discover.CPU},
		Sizes:      []image.Point{{32, 24}, {48, 48}},
		Iterations: 3,
		Warmup:     1,
		Tile:       32,
		Overlap:    8,
	}, func(b discover.Backend) (inference.Session, error) {
		return rt.NewSession([]byte("model"), b)
	}, warn)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"skipping backend"}, warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	for _, r := range results {
		if r.Backend != discover.CPU || r.Iterations != 3 {
			t.Errorf("unexpected result %+v", r)
		}
	}

	sessions := rt.Sessions()
	if len(sessions) != 1 || !sessions[0].Closed() {
		t.Fatal("expected one closed session")
	}

	t.Run("no backend", func(t *testing.T) {
		_, err := run(t.Context(), config{Backends: []discover.Backend{discover.CUDA}, Sizes: []image.Point{{8, 8}}, Iterations: 1},
			func(b discover.Backend) (inference.Session, error) {
				return rt.NewSession(nil, b)
			}, warn)
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestReport(t *testing.T) {
	results := []result{{
		Backend:    discover.CPU,
		Size:       image.Pt(512, 256),
		Iterations: 5,
		Avg:        12500 * time.Microsecond,
		Min:        10 * time.Millisecond,
		P95:        15 * time.Millisecond,
		Max:        16 * time.Millisecond,
		Throughput: 10.48576,
	}}

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := report(&buf, "csv", results); err != nil {
			t.Fatal(err)
		}
		want := "backend,width,height,iterations,avg_ms,min_ms,p95_ms,max_ms,megapixels_per_second\n" +
			"cpu,512,256,5,12.500,10.000,15.000,16.000,10.486\n"
		if diff := cmp.Diff(want, buf.String()); diff != "" {
			t.Errorf("csv mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := report(&buf, "table", results); err != nil {
			t.Fatal(err)
		}
		for _, s := range []string{"Backend", "512x256", "12.50ms", "10.49"} {
			if !strings.Contains(buf.String(), s) {
				t.Errorf("table missing %q:\n%s", s, buf.String())
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		if err := report(&buf, "markdown", results); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "| cpu") {
			t.Errorf("markdown table missing row:\n%s", buf.String())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := report(&bytes.Buffer{}, "xml", results); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		500 * time.Nanosecond:   "0.50us",
		2500 * time.Microsecond: "2.50ms",
		1500 * time.Millisecond: "1.50s",
	}
	for d, want := range cases {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
