package calculators

import (
	"context"
	"fmt"
	"math"

	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/graph"
)

// Sigmoid is the logistic activation.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// DecodeScore reads the single value of the presence group and applies the
// sigmoid.
func DecodeScore(tensors []*tensor.Dense) (float32, error) {
	if len(tensors) != 1 {
		return 0, fmt.Errorf("%w: %d score tensors, want 1", ErrMalformedTensor, len(tensors))
	}
	data, err := vision.Float32s(tensors[0])
	if err != nil {
		return 0, fmt.Errorf("score: %w", err)
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: score tensor has %d values, want 1", ErrMalformedTensor, len(data))
	}
	return Sigmoid(data[0]), nil
}

// TensorsToFloats converts the presence group to a score in [0, 1].
type TensorsToFloats struct{}

func (TensorsToFloats) Kind() string { return KindTensorsToFloats }

func (TensorsToFloats) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[[]*tensor.Dense](TagTensors)}
}

func (TensorsToFloats) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[float32](TagFloat)}
}

func (TensorsToFloats) Process(_ context.Context, pc *graph.Context) error {
	tensors, _ := graph.Get[[]*tensor.Dense](pc, TagTensors)
	score, err := DecodeScore(tensors)
	if err != nil {
		return err
	}
	graph.Set(pc, TagFloat, score)
	return nil
}

// Thresholding emits FLAG = FLOAT >= Threshold. The boundary is inclusive.
type Thresholding struct {
	Threshold float32
}

func (Thresholding) Kind() string { return KindThresholding }

func (Thresholding) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[float32](TagFloat)}
}

func (Thresholding) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[bool](TagFlag)}
}

func (s Thresholding) Process(_ context.Context, pc *graph.Context) error {
	score, _ := graph.Get[float32](pc, TagFloat)
	graph.Set(pc, TagFlag, score >= s.Threshold)
	return nil
}
