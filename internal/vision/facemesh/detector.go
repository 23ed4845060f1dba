// Package facemesh assembles the face landmarks detector graph and exposes
// its single-region and batch entry points.
//
// A Detector is built once from its options and collaborators. Construction
// validates the confidence threshold, resolves the model variant from the
// model resources, and compiles the graph; none of that is repeated per
// frame. Detect and DetectBatch are safe for concurrent use.
//
// Graph (single region):
//
//	IMAGE, NORM_RECT? → ImagePreprocessing → Inference → SplitTensorVector
//	  landmark tensors → TensorsToFaceLandmarks → LandmarkLetterboxRemoval
//	    → LandmarkProjection → Gate(PRESENCE) → NORM_LANDMARKS
//	    → LandmarksToDetection → DetectionToRect → RectTransformation
//	    → Gate(PRESENCE) → FACE_RECT_NEXT_FRAME
//	  presence tensor → TensorsToFloats → PRESENCE_SCORE
//	    → Thresholding → PRESENCE
package facemesh

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/batch"
	"github.com/banshee-data/facemesh/internal/vision/calculators"
	"github.com/banshee-data/facemesh/internal/vision/gate"
	"github.com/banshee-data/facemesh/internal/vision/graph"
	"github.com/banshee-data/facemesh/internal/vision/inference"
	"github.com/banshee-data/facemesh/internal/vision/preprocess"
	"github.com/banshee-data/facemesh/internal/vision/split"
)

// Graph input and output tags.
const (
	TagImage             = "IMAGE"
	TagNormRect          = "NORM_RECT"
	TagNormLandmarks     = "NORM_LANDMARKS"
	TagFaceRectNextFrame = "FACE_RECT_NEXT_FRAME"
	TagPresence          = "PRESENCE"
	TagPresenceScore     = "PRESENCE_SCORE"

	// Batch output names.
	TagLandmarks          = "LANDMARKS"
	TagFaceRectsNextFrame = "FACE_RECTS_NEXT_FRAME"
)

// GraphName names the compiled single-region graph.
const GraphName = "face_landmarks_detector"

var (
	// ErrInvalidConfidence reports a threshold outside [0, 1].
	ErrInvalidConfidence = errors.New("facemesh: min detection confidence must be in [0, 1]")
	// ErrMissingCollaborator reports a nil preprocessor, engine or model.
	ErrMissingCollaborator = errors.New("facemesh: missing collaborator")
)

// Options configures a Detector.
type Options struct {
	MinDetectionConfidence float32
	// Acceleration is passed to the engine untouched.
	Acceleration inference.Acceleration
	// BatchParallelism bounds concurrent items in DetectBatch. Zero or one
	// processes regions sequentially.
	BatchParallelism int
	// Refinement maps the attention model's regional tensors onto the mesh.
	Refinement calculators.Refinement
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{MinDetectionConfidence: 0.5}
}

// Collaborators are the external pieces the graph composes.
type Collaborators struct {
	Preprocessor preprocess.Preprocessor
	Engine       inference.Engine
	Model        inference.ModelResources
}

// Detector is an assembled, immutable face landmarks graph.
type Detector struct {
	opts   Options
	policy split.Policy
	decode calculators.LandmarksOptions
	plan   *graph.Plan
}

// NewDetector validates opts, resolves the model variant and compiles the
// graph.
func NewDetector(opts Options, c Collaborators) (*Detector, error) {
	conf := opts.MinDetectionConfidence
	if math.IsNaN(float64(conf)) || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidConfidence, conf)
	}
	switch {
	case c.Preprocessor == nil:
		return nil, fmt.Errorf("%w: preprocessor", ErrMissingCollaborator)
	case c.Engine == nil:
		return nil, fmt.Errorf("%w: engine", ErrMissingCollaborator)
	case c.Model == nil:
		return nil, fmt.Errorf("%w: model resources", ErrMissingCollaborator)
	}

	policy, err := split.NewPolicy(c.Model.OutputTensorCount())
	if err != nil {
		return nil, fmt.Errorf("facemesh: %w", err)
	}
	spec, err := c.Model.InputImageSpec()
	if err != nil {
		return nil, fmt.Errorf("facemesh: %w", err)
	}
	decode := calculators.LandmarksOptions{
		InputWidth:  spec.Width,
		InputHeight: spec.Height,
		Attention:   policy.IsAttention(),
		Refinement:  opts.Refinement,
	}
	if err := decode.Validate(); err != nil {
		return nil, fmt.Errorf("facemesh: %w", err)
	}

	plan, err := buildGraph(opts, c, policy, decode)
	if err != nil {
		return nil, err
	}
	diagf("detector ready: %s model, input %dx%d, %d landmarks, min confidence %.2f, %s",
		policy.Variant, spec.Width, spec.Height, decode.ExpectedLandmarks(), conf, opts.Acceleration.Backend)
	return &Detector{opts: opts, policy: policy, decode: decode, plan: plan}, nil
}

func buildGraph(opts Options, c Collaborators, policy split.Policy, decode calculators.LandmarksOptions) (*graph.Plan, error) {
	g := graph.New(GraphName)
	image := graph.Input[*vision.Image](g, TagImage)
	faceRect := graph.OptionalInput[vision.NormalizedRect](g, TagNormRect)

	pre := g.AddNode(calculators.ImagePreprocessing{Preprocessor: c.Preprocessor})
	graph.Connect(image, pre, calculators.TagImage)
	graph.Connect(faceRect, pre, calculators.TagNormRect)
	imageSize := graph.Out[vision.ImageSize](pre, calculators.TagImageSize)
	padding := graph.Out[vision.LetterboxPadding](pre, calculators.TagLetterboxPadding)

	infer := g.AddNode(calculators.Inference{Engine: c.Engine, Acceleration: opts.Acceleration})
	graph.Connect(graph.Out[*tensor.Dense](pre, calculators.TagTensors), infer, calculators.TagTensors)

	splitter := g.AddNode(calculators.SplitTensorVector{Policy: policy})
	graph.Connect(graph.Out[[]*tensor.Dense](infer, calculators.TagTensors), splitter, calculators.TagTensors)

	toLandmarks := g.AddNode(calculators.TensorsToFaceLandmarks{Options: decode})
	graph.Connect(graph.Out[[]*tensor.Dense](splitter, calculators.TagLandmarkTensors), toLandmarks, calculators.TagTensors)

	toScore := g.AddNode(calculators.TensorsToFloats{})
	graph.Connect(graph.Out[[]*tensor.Dense](splitter, calculators.TagPresenceTensors), toScore, calculators.TagTensors)
	score := graph.Out[float32](toScore, calculators.TagFloat)

	threshold := g.AddNode(calculators.Thresholding{Threshold: opts.MinDetectionConfidence})
	graph.Connect(score, threshold, calculators.TagFloat)
	presence := graph.Out[bool](threshold, calculators.TagFlag)

	letterbox := g.AddNode(calculators.LandmarkLetterboxRemoval{})
	graph.Connect(graph.Out[vision.NormalizedLandmarkList](toLandmarks, calculators.TagNormLandmarks), letterbox, calculators.TagLandmarks)
	graph.Connect(padding, letterbox, calculators.TagLetterboxPadding)

	project := g.AddNode(calculators.LandmarkProjection{})
	graph.Connect(graph.Out[vision.NormalizedLandmarkList](letterbox, calculators.TagLandmarks), project, calculators.TagNormLandmarks)
	graph.Connect(faceRect, project, calculators.TagNormRect)
	landmarks := calculators.AllowIf(g,
		graph.Out[vision.NormalizedLandmarkList](project, calculators.TagNormLandmarks), presence)

	toDetection := g.AddNode(calculators.LandmarksToDetectionStage{})
	graph.Connect(landmarks, toDetection, calculators.TagNormLandmarks)

	toRect := g.AddNode(calculators.DetectionToRectStage{Options: calculators.FaceRectOptions()})
	graph.Connect(graph.Out[vision.Detection](toDetection, calculators.TagDetection), toRect, calculators.TagDetection)
	graph.Connect(imageSize, toRect, calculators.TagImageSize)

	expand := g.AddNode(calculators.RectTransformation{Options: calculators.FaceRectTransform()})
	graph.Connect(graph.Out[vision.NormalizedRect](toRect, calculators.TagNormRect), expand, calculators.TagNormRect)
	graph.Connect(imageSize, expand, calculators.TagImageSize)
	nextFrame := calculators.AllowIf(g, graph.Out[vision.NormalizedRect](expand, calculators.TagNormRect), presence)

	graph.SetOutput(g, TagNormLandmarks, landmarks)
	graph.SetOutput(g, TagFaceRectNextFrame, nextFrame)
	graph.SetOutput(g, TagPresence, presence)
	graph.SetOutput(g, TagPresenceScore, score)
	return g.Compile()
}

// Variant returns the model variant resolved at construction.
func (d *Detector) Variant() split.Variant { return d.policy.Variant }

// Policy returns the tensor split policy baked into the graph.
func (d *Detector) Policy() split.Policy { return d.policy }

// LandmarkCount is the length of every non-empty landmark list.
func (d *Detector) LandmarkCount() int { return d.decode.ExpectedLandmarks() }

// Options returns the options the detector was built with.
func (d *Detector) Options() Options { return d.opts }

// Plan exposes the compiled graph, mainly for inspection.
func (d *Detector) Plan() *graph.Plan { return d.plan }

// Result is the outcome of one image/region pair. Landmarks and
// RectNextFrame are absent when no face is present; the score is always
// reported.
type Result struct {
	Landmarks     gate.Optional[vision.NormalizedLandmarkList]
	RectNextFrame gate.Optional[vision.NormalizedRect]
	Presence      bool
	PresenceScore float32
}

// Detect runs the graph on img. A nil rect means the whole image. Not
// finding a face is not an error.
func (d *Detector) Detect(ctx context.Context, img *vision.Image, rect *vision.NormalizedRect) (Result, error) {
	inputs := map[string]any{TagImage: img}
	if rect != nil {
		inputs[TagNormRect] = *rect
	}
	res, err := d.plan.Run(ctx, inputs)
	if err != nil {
		return Result{}, fmt.Errorf("facemesh: %w", err)
	}

	var out Result
	if out.Landmarks, err = graph.Lookup[vision.NormalizedLandmarkList](res, TagNormLandmarks); err != nil {
		return Result{}, err
	}
	if out.RectNextFrame, err = graph.Lookup[vision.NormalizedRect](res, TagFaceRectNextFrame); err != nil {
		return Result{}, err
	}
	presence, err := graph.Lookup[bool](res, TagPresence)
	if err != nil {
		return Result{}, err
	}
	score, err := graph.Lookup[float32](res, TagPresenceScore)
	if err != nil {
		return Result{}, err
	}
	out.Presence, out.PresenceScore = presence.OrZero(), score.OrZero()
	tracef("presence=%t score=%.3f landmarks=%s", out.Presence, out.PresenceScore, presenceOf(out.Landmarks))
	return out, nil
}

func presenceOf[T any](o gate.Optional[T]) string {
	if o.Present() {
		return "present"
	}
	return "absent"
}

// BatchResult holds the four per-region lists of DetectBatch, each
// index-aligned with the input regions. A region without a face keeps its
// slot: an empty landmark list and a zero rect.
type BatchResult struct {
	Landmarks      []vision.NormalizedLandmarkList
	RectsNextFrame []vision.NormalizedRect
	Presence       []bool
	PresenceScores []float32
}

// Len returns the number of regions.
func (b BatchResult) Len() int { return len(b.Presence) }

// EmptyLandmarks is the placeholder for a region without a face.
func EmptyLandmarks() vision.NormalizedLandmarkList {
	return vision.NormalizedLandmarkList{Landmarks: []vision.NormalizedLandmark{}}
}

// DetectBatch runs the graph once per region on the shared img. Any failed
// region fails the whole batch.
func (d *Detector) DetectBatch(ctx context.Context, img *vision.Image, rects []vision.NormalizedRect) (BatchResult, error) {
	detect := func(ctx context.Context, _ int, rect vision.NormalizedRect) (vision.NormalizedLandmarkList, vision.NormalizedRect, bool, float32, error) {
		r, err := d.Detect(ctx, img, &rect)
		if err != nil {
			return vision.NormalizedLandmarkList{}, vision.NormalizedRect{}, false, 0, err
		}
		return r.Landmarks.OrElse(EmptyLandmarks()), r.RectNextFrame.OrZero(), r.Presence, r.PresenceScore, nil
	}
	lms, next, presence, scores, err := batch.MapAndZip4(ctx, rects, detect,
		batch.Options{Parallelism: d.opts.BatchParallelism})
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Landmarks: lms, RectsNextFrame: next, Presence: presence, PresenceScores: scores}, nil
}
