package vision

import (
	"fmt"

	"gorgonia.org/tensor"
)

// NewTensor builds a float32 dense tensor over data with the given shape.
// The tensor takes ownership of data.
func NewTensor(data []float32, shape ...int) *tensor.Dense {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(shape...),
		tensor.WithBacking(data),
	)
}

// Float32s returns the flat float32 backing of t without copying.
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("vision: nil tensor")
	}
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		// scalar-shaped tensors report their single value
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("vision: tensor dtype %v, want float32", t.Dtype())
	}
}

// ScalarOf returns the first element of a float32 tensor.
func ScalarOf(t *tensor.Dense) (float32, error) {
	data, err := Float32s(t)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("vision: empty tensor, want at least one element")
	}
	return data[0], nil
}
