// Package inference defines the runtime-neutral view of a model session:
// uint8 tensors in, uint8 tensors out.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuziyo/tuziyo/discover"
)

// Tensor is a shaped, flat buffer of 8-bit unsigned integers.
type Tensor struct {
	Shape []int64
	Data  []uint8
}

// Elements returns the product of shape, or -1 if any dimension is negative.
func Elements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

// NewTensor validates that data holds exactly as many elements as shape
// describes.
func NewTensor(shape []int64, data []uint8) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.New("inference: empty tensor shape")
	}
	if n := Elements(shape); n != int64(len(data)) {
		return nil, fmt.Errorf("inference: shape %v holds %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Session is a model loaded on one backend. A session runs one inference at
// a time; callers serialize access.
type Session interface {
	// InputNames returns the declared inputs in model order.
	InputNames() []string

	// OutputNames returns the declared outputs in model order.
	OutputNames() []string

	// Run executes the model. Inputs are keyed by name; the result holds
	// every declared output.
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)

	// Backend reports the backend the session was built on.
	Backend() discover.Backend

	// Close releases native resources. It is safe to call more than once.
	Close() error
}

// Runtime constructs sessions from serialized model bytes.
type Runtime interface {
	NewSession(model []byte, backend discover.Backend) (Session, error)
}
