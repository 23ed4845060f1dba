package inference

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

const maxMetadataBytes = 1 << 20

// ErrInvalidMetadata reports a model description the graph cannot use.
var ErrInvalidMetadata = errors.New("inference: invalid model metadata")

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// Subgraph is one computation subgraph of a model.
type Subgraph struct {
	Name    string       `yaml:"name"`
	Inputs  []TensorInfo `yaml:"inputs"`
	Outputs []TensorInfo `yaml:"outputs"`
}

// ModelMetadata is a YAML description of a landmark model. The first
// subgraph is the primary one.
//
// Example:
//
//	name: face_landmarks_detector
//	subgraphs:
//	  - name: main
//	    inputs:
//	      - {name: input_12, shape: [1, 192, 192, 3]}
//	    outputs:
//	      - {name: Identity, shape: [1, 1, 1, 1404]}
//	      - {name: Identity_1, shape: [1, 1, 1, 1]}
type ModelMetadata struct {
	Name      string     `yaml:"name"`
	Subgraphs []Subgraph `yaml:"subgraphs"`
}

// ParseModelMetadata decodes and validates a YAML model description.
func ParseModelMetadata(data []byte) (*ModelMetadata, error) {
	var m ModelMetadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if len(m.Subgraphs) == 0 {
		return nil, fmt.Errorf("%w: %q declares no subgraphs", ErrInvalidMetadata, m.Name)
	}
	if _, err := m.InputImageSpec(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModelMetadata reads a YAML model description from fsys.
func LoadModelMetadata(fsys fs.FS, path string) (*ModelMetadata, error) {
	info, err := fs.Stat(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("inference: stat metadata: %w", err)
	}
	if info.Size() > maxMetadataBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidMetadata, path, info.Size(), maxMetadataBytes)
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("inference: read metadata: %w", err)
	}
	m, err := ParseModelMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// OutputTensorCount implements ModelResources.
func (m *ModelMetadata) OutputTensorCount() int {
	if len(m.Subgraphs) == 0 {
		return 0
	}
	return len(m.Subgraphs[0].Outputs)
}

// InputImageSpec implements ModelResources. The image input is the first
// input of the primary subgraph, laid out NHWC.
func (m *ModelMetadata) InputImageSpec() (ImageTensorSpec, error) {
	if len(m.Subgraphs) == 0 || len(m.Subgraphs[0].Inputs) == 0 {
		return ImageTensorSpec{}, fmt.Errorf("%w: no image input", ErrInvalidMetadata)
	}
	in := m.Subgraphs[0].Inputs[0]
	if len(in.Shape) != 4 || in.Shape[1] <= 0 || in.Shape[2] <= 0 {
		return ImageTensorSpec{}, fmt.Errorf("%w: input %q shape %v, want [batch, height, width, channels]",
			ErrInvalidMetadata, in.Name, in.Shape)
	}
	return ImageTensorSpec{Width: in.Shape[2], Height: in.Shape[1]}, nil
}
