package inference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
)

// ErrInvalidRecording reports a replay fixture that cannot produce tensors.
var ErrInvalidRecording = errors.New("inference: invalid recording")

// TensorRecord is one recorded output tensor. Either Data holds every
// element or Fill gives a constant for all of them.
type TensorRecord struct {
	Name  string    `yaml:"name,omitempty"`
	Shape []int     `yaml:"shape"`
	Data  []float32 `yaml:"data,omitempty"`
	Fill  *float32  `yaml:"fill,omitempty"`
}

func (r TensorRecord) elements() int {
	n := 1
	for _, d := range r.Shape {
		n *= d
	}
	return n
}

func (r TensorRecord) validate() error {
	if len(r.Shape) == 0 {
		return fmt.Errorf("%w: tensor %q has no shape", ErrInvalidRecording, r.Name)
	}
	for _, d := range r.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: tensor %q shape %v", ErrInvalidRecording, r.Name, r.Shape)
		}
	}
	switch {
	case r.Fill != nil && len(r.Data) > 0:
		return fmt.Errorf("%w: tensor %q sets both data and fill", ErrInvalidRecording, r.Name)
	case r.Fill == nil && len(r.Data) != r.elements():
		return fmt.Errorf("%w: tensor %q has %d values for shape %v",
			ErrInvalidRecording, r.Name, len(r.Data), r.Shape)
	}
	return nil
}

func (r TensorRecord) materialize() *tensor.Dense {
	data := make([]float32, r.elements())
	if r.Fill != nil {
		for i := range data {
			data[i] = *r.Fill
		}
	} else {
		copy(data, r.Data)
	}
	return vision.NewTensor(data, r.Shape...)
}

// Recording is the YAML document read by ReplayEngine.
type Recording struct {
	Tensors []TensorRecord `yaml:"tensors"`
}

// ReplayEngine answers every Run with the same recorded outputs. Each call
// gets fresh tensors, so callers may mutate them.
type ReplayEngine struct {
	records []TensorRecord
}

// NewReplayEngine validates rec and returns an engine serving it.
func NewReplayEngine(rec Recording) (*ReplayEngine, error) {
	if len(rec.Tensors) == 0 {
		return nil, fmt.Errorf("%w: no tensors", ErrInvalidRecording)
	}
	for _, r := range rec.Tensors {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return &ReplayEngine{records: append([]TensorRecord(nil), rec.Tensors...)}, nil
}

// LoadReplayEngine reads a YAML recording from fsys.
func LoadReplayEngine(fsys fs.FS, path string) (*ReplayEngine, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("inference: read recording: %w", err)
	}
	var rec Recording
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRecording, path, err)
	}
	return NewReplayEngine(rec)
}

// MarshalRecording encodes tensors as a YAML recording.
func MarshalRecording(tensors []*tensor.Dense) ([]byte, error) {
	rec := Recording{Tensors: make([]TensorRecord, len(tensors))}
	for i, t := range tensors {
		data, err := vision.Float32s(t)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		rec.Tensors[i] = TensorRecord{
			Name:  fmt.Sprintf("output_%d", i),
			Shape: append([]int(nil), t.Shape()...),
			Data:  append([]float32(nil), data...),
		}
	}
	return yaml.Marshal(rec)
}

// OutputCount is the number of tensors each Run returns.
func (e *ReplayEngine) OutputCount() int { return len(e.records) }

// Run implements Engine.
func (e *ReplayEngine) Run(ctx context.Context, input *tensor.Dense, _ Acceleration) ([]*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, errors.New("inference: nil input tensor")
	}
	out := make([]*tensor.Dense, len(e.records))
	for i, r := range e.records {
		out[i] = r.materialize()
	}
	return out, nil
}
