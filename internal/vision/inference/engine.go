// Package inference holds the contracts of the model collaborators consumed
// by the detector graph: the inference engine, the acceleration settings it
// receives, and the model resources queried once at construction.
//
// The package ships two reference implementations. ModelMetadata describes a
// model's subgraphs in YAML and answers the resource queries. ReplayEngine
// serves recorded output tensors, which lets the CLI and tests drive the full
// graph without a native runtime.
package inference

import (
	"context"
	"fmt"
	"strings"

	"gorgonia.org/tensor"
)

// Backend selects where the inference collaborator executes.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend maps a configuration string to a Backend. The empty string
// selects the CPU.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	default:
		return BackendCPU, fmt.Errorf("inference: unknown backend %q", s)
	}
}

// Acceleration is handed to the engine untouched on every call. The graph
// never inspects it.
type Acceleration struct {
	Backend    Backend
	NumThreads int
}

// Engine runs the landmark model on one input tensor.
type Engine interface {
	Run(ctx context.Context, input *tensor.Dense, accel Acceleration) ([]*tensor.Dense, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, input *tensor.Dense, accel Acceleration) ([]*tensor.Dense, error)

// Run implements Engine.
func (f EngineFunc) Run(ctx context.Context, input *tensor.Dense, accel Acceleration) ([]*tensor.Dense, error) {
	return f(ctx, input, accel)
}

// ImageTensorSpec is the pixel geometry of the model's image input.
type ImageTensorSpec struct {
	Width  int
	Height int
}

// ModelResources exposes the facts about a loaded model that the graph
// needs at construction time.
type ModelResources interface {
	// OutputTensorCount is the number of outputs declared by the primary
	// subgraph.
	OutputTensorCount() int
	// InputImageSpec describes the image input tensor.
	InputImageSpec() (ImageTensorSpec, error)
}
