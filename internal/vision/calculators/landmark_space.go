package calculators

import (
	"context"
	"math"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/graph"
)

// RemoveLetterbox re-normalizes landmarks from the padded model input to
// the unpadded crop. z scales with the horizontal extent like x.
func RemoveLetterbox(list vision.NormalizedLandmarkList, pad vision.LetterboxPadding) vision.NormalizedLandmarkList {
	out := list.Clone()
	w := 1 - pad.Left - pad.Right
	h := 1 - pad.Top - pad.Bottom
	if w <= 0 || h <= 0 {
		return out
	}
	for i, lm := range out.Landmarks {
		out.Landmarks[i] = vision.NormalizedLandmark{
			X: (lm.X - pad.Left) / w,
			Y: (lm.Y - pad.Top) / h,
			Z: lm.Z / w,
		}
	}
	return out
}

// ProjectLandmarks maps landmarks normalized to the crop described by rect
// back to the full image.
func ProjectLandmarks(list vision.NormalizedLandmarkList, rect vision.NormalizedRect) vision.NormalizedLandmarkList {
	out := list.Clone()
	sin, cos := math.Sincos(float64(rect.Rotation))
	for i, lm := range out.Landmarks {
		x, y := float64(lm.X)-0.5, float64(lm.Y)-0.5
		rx := cos*x - sin*y
		ry := sin*x + cos*y
		out.Landmarks[i] = vision.NormalizedLandmark{
			X: float32(rx*float64(rect.Width)) + rect.XCenter,
			Y: float32(ry*float64(rect.Height)) + rect.YCenter,
			Z: lm.Z * rect.Width,
		}
	}
	return out
}

// LandmarkLetterboxRemoval wraps RemoveLetterbox.
type LandmarkLetterboxRemoval struct{}

func (LandmarkLetterboxRemoval) Kind() string { return KindLandmarkLetterboxRemoval }

func (LandmarkLetterboxRemoval) Inputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[vision.NormalizedLandmarkList](TagLandmarks),
		graph.Port[vision.LetterboxPadding](TagLetterboxPadding),
	}
}

func (LandmarkLetterboxRemoval) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedLandmarkList](TagLandmarks)}
}

func (LandmarkLetterboxRemoval) Process(_ context.Context, pc *graph.Context) error {
	list, _ := graph.Get[vision.NormalizedLandmarkList](pc, TagLandmarks)
	pad, _ := graph.Get[vision.LetterboxPadding](pc, TagLetterboxPadding)
	graph.Set(pc, TagLandmarks, RemoveLetterbox(list, pad))
	return nil
}

// LandmarkProjection wraps ProjectLandmarks. Without NORM_RECT the crop is
// the whole image.
type LandmarkProjection struct{}

func (LandmarkProjection) Kind() string { return KindLandmarkProjection }

func (LandmarkProjection) Inputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[vision.NormalizedLandmarkList](TagNormLandmarks),
		graph.OptionalPort[vision.NormalizedRect](TagNormRect),
	}
}

func (LandmarkProjection) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedLandmarkList](TagNormLandmarks)}
}

func (LandmarkProjection) Process(_ context.Context, pc *graph.Context) error {
	list, _ := graph.Get[vision.NormalizedLandmarkList](pc, TagNormLandmarks)
	rect, ok := graph.Get[vision.NormalizedRect](pc, TagNormRect)
	if !ok {
		rect = vision.WholeImageRect()
	}
	graph.Set(pc, TagNormLandmarks, ProjectLandmarks(list, rect))
	return nil
}
