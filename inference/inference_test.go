package inference

import "testing"

func TestNewTensor(t *testing.T) {
	cases := []struct {
		name  string
		shape []int64
		n     int
		ok    bool
	}{
		{"image", []int64{1, 3, 4, 5}, 60, true},
		{"mask", []int64{1, 1, 4, 5}, 20, true},
		{"short", []int64{1, 3, 4, 5}, 59, false},
		{"long", []int64{1, 1, 2, 2}, 5, false},
		{"negative", []int64{1, -1, 2}, 2, false},
		{"empty shape", nil, 0, false},
		{"zero dim", []int64{1, 3, 0, 5}, 0, true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTensor(tt.shape, make([]uint8, tt.n))
			if (err == nil) != tt.ok {
				t.Errorf("expected ok=%t, got %v", tt.ok, err)
			}
		})
	}
}
