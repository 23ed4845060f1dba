package calculators

import (
	"context"
	"errors"

	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/graph"
	"github.com/banshee-data/facemesh/internal/vision/inference"
	"github.com/banshee-data/facemesh/internal/vision/preprocess"
	"github.com/banshee-data/facemesh/internal/vision/split"
)

// ImagePreprocessing runs the preprocessing collaborator. NORM_RECT is
// optional; without it the whole image is the region.
type ImagePreprocessing struct {
	Preprocessor preprocess.Preprocessor
}

func (ImagePreprocessing) Kind() string { return KindImagePreprocessing }

func (ImagePreprocessing) Inputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[*vision.Image](TagImage),
		graph.OptionalPort[vision.NormalizedRect](TagNormRect),
	}
}

func (ImagePreprocessing) Outputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[*tensor.Dense](TagTensors),
		graph.Port[vision.ImageSize](TagImageSize),
		graph.Port[vision.LetterboxPadding](TagLetterboxPadding),
	}
}

func (s ImagePreprocessing) Process(ctx context.Context, pc *graph.Context) error {
	img, _ := graph.Get[*vision.Image](pc, TagImage)
	rect, ok := graph.Get[vision.NormalizedRect](pc, TagNormRect)
	if !ok {
		rect = vision.WholeImageRect()
	}
	out, err := s.Preprocessor.Process(ctx, img, rect)
	if err != nil {
		return err
	}
	graph.Set(pc, TagTensors, out.Tensor)
	graph.Set(pc, TagImageSize, out.ImageSize)
	graph.Set(pc, TagLetterboxPadding, out.Padding)
	return nil
}

// Inference runs the engine with the configured acceleration.
type Inference struct {
	Engine       inference.Engine
	Acceleration inference.Acceleration
}

func (Inference) Kind() string { return KindInference }

func (Inference) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[*tensor.Dense](TagTensors)}
}

func (Inference) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[[]*tensor.Dense](TagTensors)}
}

func (s Inference) Process(ctx context.Context, pc *graph.Context) error {
	in, _ := graph.Get[*tensor.Dense](pc, TagTensors)
	out, err := s.Engine.Run(ctx, in, s.Acceleration)
	if err != nil {
		return err
	}
	graph.Set(pc, TagTensors, out)
	return nil
}

// SplitTensorVector applies a split.Policy to the inference output.
type SplitTensorVector struct {
	Policy split.Policy
}

func (SplitTensorVector) Kind() string { return KindSplitTensorVector }

func (SplitTensorVector) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[[]*tensor.Dense](TagTensors)}
}

func (SplitTensorVector) Outputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[[]*tensor.Dense](TagLandmarkTensors),
		graph.Port[[]*tensor.Dense](TagPresenceTensors),
	}
}

func (s SplitTensorVector) Process(_ context.Context, pc *graph.Context) error {
	list, _ := graph.Get[[]*tensor.Dense](pc, TagTensors)
	landmarks, presence, err := s.Policy.Split(list)
	if err != nil {
		return err
	}
	graph.Set(pc, TagLandmarkTensors, landmarks)
	graph.Set(pc, TagPresenceTensors, presence)
	return nil
}

// ErrNilCollaborator reports a stage built without its collaborator.
var ErrNilCollaborator = errors.New("calculators: nil collaborator")

// Validate reports a stage built without its collaborator.
func (s ImagePreprocessing) Validate() error {
	if s.Preprocessor == nil {
		return ErrNilCollaborator
	}
	return nil
}

// Validate reports a stage built without its engine.
func (s Inference) Validate() error {
	if s.Engine == nil {
		return ErrNilCollaborator
	}
	return nil
}
