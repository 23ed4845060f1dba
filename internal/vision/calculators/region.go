package calculators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/graph"
)

// Keypoints spanning the eyes; the vector between them defines face roll.
const (
	LeftEyeOuterCorner  = 33
	RightEyeOuterCorner = 263
)

// FaceRectExpansion is the scale applied to the tight face rect for
// next-frame tracking.
const FaceRectExpansion = 1.5

// ErrEmptyLandmarks reports a landmark list with nothing to enclose.
var ErrEmptyLandmarks = errors.New("calculators: empty landmark list")

// LandmarksToDetection encloses list in an axis-aligned box and keeps the
// landmarks as keypoints.
func LandmarksToDetection(list vision.NormalizedLandmarkList) (vision.Detection, error) {
	if list.Len() == 0 {
		return vision.Detection{}, ErrEmptyLandmarks
	}
	xs := make([]float64, list.Len())
	ys := make([]float64, list.Len())
	for i, lm := range list.Landmarks {
		xs[i], ys[i] = float64(lm.X), float64(lm.Y)
	}
	xMin, xMax := floats.Min(xs), floats.Max(xs)
	yMin, yMax := floats.Min(ys), floats.Max(ys)
	return vision.Detection{
		Box: vision.RelativeBoundingBox{
			XMin:   float32(xMin),
			YMin:   float32(yMin),
			Width:  float32(xMax - xMin),
			Height: float32(yMax - yMin),
		},
		Keypoints: list.Clone().Landmarks,
	}, nil
}

// RectOptions configures DetectionToRect.
type RectOptions struct {
	StartKeypoint int
	EndKeypoint   int
	// TargetAngle is the angle, in radians, the start→end vector is rotated
	// onto.
	TargetAngle float64
}

// FaceRectOptions is the eye-corner rotation used for faces.
func FaceRectOptions() RectOptions {
	return RectOptions{StartKeypoint: LeftEyeOuterCorner, EndKeypoint: RightEyeOuterCorner}
}

// DetectionToRect converts det to a rect centred on its box and rotated so
// the keypoint vector points at the target angle. The angle is measured in
// pixels, which is why the image size is needed.
func DetectionToRect(det vision.Detection, size vision.ImageSize, opts RectOptions) (vision.NormalizedRect, error) {
	n := len(det.Keypoints)
	if opts.StartKeypoint < 0 || opts.StartKeypoint >= n || opts.EndKeypoint < 0 || opts.EndKeypoint >= n {
		return vision.NormalizedRect{}, fmt.Errorf("calculators: rotation keypoints %d→%d with %d keypoints",
			opts.StartKeypoint, opts.EndKeypoint, n)
	}
	b := det.Box
	rect := vision.NormalizedRect{
		XCenter: b.XMin + b.Width/2,
		YCenter: b.YMin + b.Height/2,
		Width:   b.Width,
		Height:  b.Height,
	}
	start, end := det.Keypoints[opts.StartKeypoint], det.Keypoints[opts.EndKeypoint]
	dx := float64(end.X-start.X) * float64(size.Width)
	dy := float64(end.Y-start.Y) * float64(size.Height)
	rect.Rotation = float32(vision.NormalizeRadians(opts.TargetAngle - math.Atan2(-dy, dx)))
	return rect, nil
}

// TransformOptions configures TransformRect.
type TransformOptions struct {
	ScaleX, ScaleY float32
	// ShiftX and ShiftY move the centre by a fraction of the rect size,
	// along the rect's own axes.
	ShiftX, ShiftY float32
	// SquareLong makes the rect square on its longer pixel side; SquareShort
	// on its shorter one. SquareLong wins if both are set.
	SquareLong  bool
	SquareShort bool
}

// FaceRectTransform is the next-frame expansion used for faces.
func FaceRectTransform() TransformOptions {
	return TransformOptions{ScaleX: FaceRectExpansion, ScaleY: FaceRectExpansion, SquareLong: true}
}

// TransformRect shifts, squares and scales rect. Squaring is done in pixels
// so the result is square on the image, not in normalized units.
func TransformRect(rect vision.NormalizedRect, size vision.ImageSize, opts TransformOptions) vision.NormalizedRect {
	w, h := float64(rect.Width), float64(rect.Height)
	iw, ih := float64(size.Width), float64(size.Height)
	if opts.ShiftX != 0 || opts.ShiftY != 0 {
		sx, sy := float64(opts.ShiftX), float64(opts.ShiftY)
		if rect.Rotation == 0 {
			rect.XCenter += float32(w * sx)
			rect.YCenter += float32(h * sy)
		} else {
			sin, cos := math.Sincos(float64(rect.Rotation))
			rect.XCenter += float32((iw*w*sx*cos - ih*h*sy*sin) / iw)
			rect.YCenter += float32((iw*w*sx*sin + ih*h*sy*cos) / ih)
		}
	}
	switch {
	case opts.SquareLong:
		side := math.Max(w*iw, h*ih)
		w, h = side/iw, side/ih
	case opts.SquareShort:
		side := math.Min(w*iw, h*ih)
		w, h = side/iw, side/ih
	}
	rect.Width = float32(w * float64(opts.ScaleX))
	rect.Height = float32(h * float64(opts.ScaleY))
	return rect
}

// LandmarksToDetectionStage wraps LandmarksToDetection.
type LandmarksToDetectionStage struct{}

func (LandmarksToDetectionStage) Kind() string { return KindLandmarksToDetection }

func (LandmarksToDetectionStage) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedLandmarkList](TagNormLandmarks)}
}

func (LandmarksToDetectionStage) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.Detection](TagDetection)}
}

func (LandmarksToDetectionStage) Process(_ context.Context, pc *graph.Context) error {
	list, _ := graph.Get[vision.NormalizedLandmarkList](pc, TagNormLandmarks)
	det, err := LandmarksToDetection(list)
	if err != nil {
		return err
	}
	graph.Set(pc, TagDetection, det)
	return nil
}

// DetectionToRectStage wraps DetectionToRect.
type DetectionToRectStage struct {
	Options RectOptions
}

func (DetectionToRectStage) Kind() string { return KindDetectionToRect }

func (DetectionToRectStage) Inputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[vision.Detection](TagDetection),
		graph.Port[vision.ImageSize](TagImageSize),
	}
}

func (DetectionToRectStage) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedRect](TagNormRect)}
}

func (s DetectionToRectStage) Process(_ context.Context, pc *graph.Context) error {
	det, _ := graph.Get[vision.Detection](pc, TagDetection)
	size, _ := graph.Get[vision.ImageSize](pc, TagImageSize)
	rect, err := DetectionToRect(det, size, s.Options)
	if err != nil {
		return err
	}
	graph.Set(pc, TagNormRect, rect)
	return nil
}

// RectTransformation wraps TransformRect.
type RectTransformation struct {
	Options TransformOptions
}

func (RectTransformation) Kind() string { return KindRectTransformation }

func (RectTransformation) Inputs() []graph.PortSpec {
	return []graph.PortSpec{
		graph.Port[vision.NormalizedRect](TagNormRect),
		graph.Port[vision.ImageSize](TagImageSize),
	}
}

func (RectTransformation) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedRect](TagNormRect)}
}

func (s RectTransformation) Process(_ context.Context, pc *graph.Context) error {
	rect, _ := graph.Get[vision.NormalizedRect](pc, TagNormRect)
	size, _ := graph.Get[vision.ImageSize](pc, TagImageSize)
	graph.Set(pc, TagNormRect, TransformRect(rect, size, s.Options))
	return nil
}
