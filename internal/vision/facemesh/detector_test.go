package facemesh

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/testutil"
	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/calculators"
	"github.com/banshee-data/facemesh/internal/vision/inference"
	"github.com/banshee-data/facemesh/internal/vision/preprocess"
	"github.com/banshee-data/facemesh/internal/vision/split"
)

const inputSize = 192

func newPreprocessor(t *testing.T) *preprocess.ImagePreprocessor {
	t.Helper()
	p, err := preprocess.New(preprocess.Options{Width: inputSize, Height: inputSize})
	require.NoError(t, err)
	return p
}

func newDetector(t *testing.T, opts Options, engine inference.Engine, outputs int) *Detector {
	t.Helper()
	d, err := NewDetector(opts, Collaborators{
		Preprocessor: newPreprocessor(t),
		Engine:       engine,
		Model:        testutil.StaticModel{Outputs: outputs, Width: inputSize, Height: inputSize},
	})
	require.NoError(t, err)
	return d
}

func TestAttentionModelFacePresent(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.AttentionOutputs(inputSize, 0.9)), split.AttentionTensorCount)
	assert.Equal(t, split.VariantAttention, d.Variant())
	img := testutil.SolidImage(t, 256, 256, color.Gray{Y: 128})

	res, err := d.Detect(context.Background(), img, nil)
	require.NoError(t, err)
	assert.True(t, res.Presence)
	assert.InDelta(t, 0.9, res.PresenceScore, 1e-5)

	landmarks, ok := res.Landmarks.Get()
	require.True(t, ok)
	require.Equal(t, calculators.AttentionLandmarks, landmarks.Len())
	assert.Equal(t, d.LandmarkCount(), landmarks.Len())

	// the tight rect around the landmarks, recomputed independently
	det, err := calculators.LandmarksToDetection(landmarks)
	require.NoError(t, err)
	tight, err := calculators.DetectionToRect(det, img.Size(), calculators.FaceRectOptions())
	require.NoError(t, err)

	next, ok := res.RectNextFrame.Get()
	require.True(t, ok)
	long := math.Max(float64(tight.Width)*256, float64(tight.Height)*256)
	assert.InDelta(t, 1.5*long/256, next.Width, 1e-5)
	assert.InDelta(t, 1.5*long/256, next.Height, 1e-5)
	assert.InDelta(t, float64(next.Width)*256, float64(next.Height)*256, 1e-3, "square on the image")
	assert.InDelta(t, 0, next.Rotation, 1e-6, "level eyes")
	assert.InDelta(t, 0.5, next.XCenter, 1e-5)
	assert.InDelta(t, 0.75, next.Width, 1e-5)
}

func TestAttentionModelFaceAbsent(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.AttentionOutputs(inputSize, 0.1)), split.AttentionTensorCount)
	img := testutil.SolidImage(t, 256, 256, color.Black)

	res, err := d.Detect(context.Background(), img, nil)
	require.NoError(t, err, "no face is not an error")
	assert.False(t, res.Presence)
	assert.InDelta(t, 0.1, res.PresenceScore, 1e-5, "score is reported even without a face")
	assert.False(t, res.Landmarks.Present())
	assert.False(t, res.RectNextFrame.Present())
}

func TestBaselineModelProjectsIntoRegion(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.BaselineOutputs(inputSize, 0.8)), split.BaselineTensorCount)
	assert.Equal(t, split.VariantBaseline, d.Variant())
	img := testutil.SolidImage(t, 200, 200, color.White)

	rect := vision.NormalizedRect{XCenter: 0.25, YCenter: 0.25, Width: 0.5, Height: 0.5}
	res, err := d.Detect(context.Background(), img, &rect)
	require.NoError(t, err)
	landmarks, ok := res.Landmarks.Get()
	require.True(t, ok)
	require.Equal(t, calculators.MeshLandmarks, landmarks.Len())
	for _, lm := range landmarks.Landmarks {
		assert.GreaterOrEqual(t, lm.X, float32(0.125-1e-5))
		assert.LessOrEqual(t, lm.X, float32(0.375+1e-5))
	}
	next := res.RectNextFrame.OrZero()
	assert.InDelta(t, 0.25, next.XCenter, 1e-5)
	assert.InDelta(t, 0.375, next.Width, 1e-5)
}

func TestLetterboxedImage(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.BaselineOutputs(inputSize, 0.8)), split.BaselineTensorCount)
	// 2:1 image: the model input has a quarter of padding above and below
	img := testutil.SolidImage(t, 400, 200, color.White)

	res, err := d.Detect(context.Background(), img, nil)
	require.NoError(t, err)
	landmarks := res.Landmarks.OrZero()
	require.NotZero(t, landmarks.Len())
	// the mesh spans [0.25, 0.75] of the padded input; without padding that
	// is [0, 1] vertically
	var minY, maxY float32 = 1, 0
	for _, lm := range landmarks.Landmarks {
		minY = min(minY, lm.Y)
		maxY = max(maxY, lm.Y)
	}
	assert.InDelta(t, 0, minY, 1e-5)
	assert.InDelta(t, 1, maxY, 1e-5)
}

func TestBatchOfIdenticalRegions(t *testing.T) {
	t.Parallel()
	for _, par := range []int{0, 3} {
		opts := DefaultOptions()
		opts.BatchParallelism = par
		d := newDetector(t, opts, testutil.FixedEngine(testutil.AttentionOutputs(inputSize, 0.9)), split.AttentionTensorCount)
		img := testutil.SolidImage(t, 128, 128, color.White)
		rect := vision.NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 0.8, Height: 0.8}

		out, err := d.DetectBatch(context.Background(), img, []vision.NormalizedRect{rect, rect, rect})
		require.NoError(t, err)
		require.Equal(t, 3, out.Len())
		require.Len(t, out.Landmarks, 3)
		require.Len(t, out.RectsNextFrame, 3)
		require.Len(t, out.PresenceScores, 3)
		for i := 1; i < 3; i++ {
			if diff := cmp.Diff(out.Landmarks[0], out.Landmarks[i]); diff != "" {
				t.Errorf("item %d landmarks differ (-first +got):\n%s", i, diff)
			}
			assert.Equal(t, out.RectsNextFrame[0], out.RectsNextFrame[i])
			assert.Equal(t, out.PresenceScores[0], out.PresenceScores[i])
		}

		single, err := d.Detect(context.Background(), img, &rect)
		require.NoError(t, err)
		if diff := cmp.Diff(single.Landmarks.OrZero(), out.Landmarks[0], cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("batch item differs from single detection (-single +batch):\n%s", diff)
		}
	}
}

// brightnessEngine reports a face only when the model input is mostly bright.
func brightnessEngine(_ context.Context, in *tensor.Dense, _ inference.Acceleration) ([]*tensor.Dense, error) {
	data, err := vision.Float32s(in)
	if err != nil {
		return nil, err
	}
	var sum float32
	for _, v := range data {
		sum += v
	}
	p := float32(0.1)
	if sum/float32(len(data)) > 0.5 {
		p = 0.9
	}
	return testutil.BaselineOutputs(inputSize, p), nil
}

func halfBrightImage(t *testing.T) *vision.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	img, err := vision.NewImage(src)
	require.NoError(t, err)
	return img
}

func TestBatchPreservesOrderWithSuppressedItems(t *testing.T) {
	t.Parallel()
	left := vision.NormalizedRect{XCenter: 0.25, YCenter: 0.5, Width: 0.4, Height: 0.8}
	right := vision.NormalizedRect{XCenter: 0.75, YCenter: 0.5, Width: 0.4, Height: 0.8}

	for _, par := range []int{0, 1, 2, 3} {
		opts := DefaultOptions()
		opts.BatchParallelism = par
		d := newDetector(t, opts, inference.EngineFunc(brightnessEngine), split.BaselineTensorCount)

		out, err := d.DetectBatch(context.Background(), halfBrightImage(t), []vision.NormalizedRect{left, right, left})
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false, true}, out.Presence, "parallelism %d", par)
		assert.Equal(t, calculators.MeshLandmarks, out.Landmarks[0].Len())
		assert.Equal(t, 0, out.Landmarks[1].Len(), "suppressed item keeps an empty slot")
		assert.Equal(t, calculators.MeshLandmarks, out.Landmarks[2].Len())
		assert.True(t, out.RectsNextFrame[1].IsZero())
		assert.False(t, out.RectsNextFrame[2].IsZero())
		assert.InDelta(t, 0.1, out.PresenceScores[1], 1e-5)
		// projected into the left region
		assert.Less(t, out.RectsNextFrame[0].XCenter, float32(0.5))
	}
}

func TestEmptyBatch(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.BaselineOutputs(inputSize, 0.9)), split.BaselineTensorCount)
	out, err := d.DetectBatch(context.Background(), testutil.SolidImage(t, 8, 8, color.White), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.NotNil(t, out.Landmarks)
}

func TestConfidenceBounds(t *testing.T) {
	t.Parallel()
	engine := testutil.FixedEngine(testutil.BaselineOutputs(inputSize, 0.5))
	for _, conf := range []float32{-0.01, 1.01, float32(math.NaN()), float32(math.Inf(1))} {
		_, err := NewDetector(Options{MinDetectionConfidence: conf}, Collaborators{
			Preprocessor: newPreprocessor(t),
			Engine:       engine,
			Model:        testutil.StaticModel{Outputs: 2, Width: inputSize, Height: inputSize},
		})
		assert.ErrorIs(t, err, ErrInvalidConfidence, "confidence %v", conf)
	}
	for _, conf := range []float32{0, 0.5, 1} {
		d := newDetector(t, Options{MinDetectionConfidence: conf}, engine, split.BaselineTensorCount)
		assert.Equal(t, conf, d.Options().MinDetectionConfidence)
	}
}

func TestScoreEqualToThresholdIsPresent(t *testing.T) {
	t.Parallel()
	// a zero logit is exactly 0.5 after the sigmoid
	outputs := []*tensor.Dense{
		vision.NewTensor(testutil.MeshPoints(inputSize), 1, 1404),
		vision.NewTensor([]float32{0}, 1, 1),
	}
	d := newDetector(t, Options{MinDetectionConfidence: 0.5}, testutil.FixedEngine(outputs), split.BaselineTensorCount)
	res, err := d.Detect(context.Background(), testutil.SolidImage(t, 16, 16, color.White), nil)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), res.PresenceScore)
	assert.True(t, res.Presence)
	assert.True(t, res.Landmarks.Present())
}

func TestConstructionErrors(t *testing.T) {
	t.Parallel()
	pre := newPreprocessor(t)
	engine := testutil.FixedEngine(nil)

	for _, count := range []int{0, 1, 3, 6, 8} {
		_, err := NewDetector(DefaultOptions(), Collaborators{
			Preprocessor: pre, Engine: engine,
			Model: testutil.StaticModel{Outputs: count, Width: inputSize, Height: inputSize},
		})
		assert.ErrorIs(t, err, split.ErrUnsupportedTensorCount, "count %d", count)
	}

	_, err := NewDetector(DefaultOptions(), Collaborators{Preprocessor: pre, Engine: engine})
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	_, err = NewDetector(DefaultOptions(), Collaborators{Engine: engine, Model: testutil.StaticModel{Outputs: 2}})
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	_, err = NewDetector(DefaultOptions(), Collaborators{
		Preprocessor: pre, Engine: engine,
		Model: testutil.StaticModel{Outputs: 2},
	})
	assert.Error(t, err, "zero model input geometry")

	opts := DefaultOptions()
	opts.Refinement.Lips = []int{-1}
	_, err = NewDetector(opts, Collaborators{
		Preprocessor: pre, Engine: engine,
		Model: testutil.StaticModel{Outputs: 7, Width: inputSize, Height: inputSize},
	})
	assert.Error(t, err, "refinement index outside the mesh")
}

func TestCollaboratorFailuresPropagate(t *testing.T) {
	t.Parallel()
	boom := errors.New("inference backend lost")
	d := newDetector(t, DefaultOptions(), testutil.FailingEngine(boom), split.AttentionTensorCount)
	img := testutil.SolidImage(t, 32, 32, color.White)

	_, err := d.Detect(context.Background(), img, nil)
	assert.ErrorIs(t, err, boom)

	rect := vision.WholeImageRect()
	out, err := d.DetectBatch(context.Background(), img, []vision.NormalizedRect{rect, rect})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, out.Len(), "no partial lists")

	_, err = d.Detect(context.Background(), nil, nil)
	assert.ErrorIs(t, err, vision.ErrNilImage)
}

func TestEngineOutputDisagreeingWithModel(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(testutil.BaselineOutputs(inputSize, 0.9)), split.AttentionTensorCount)
	_, err := d.Detect(context.Background(), testutil.SolidImage(t, 16, 16, color.White), nil)
	assert.ErrorIs(t, err, split.ErrTensorCountMismatch)
}

func TestAccelerationReachesEngine(t *testing.T) {
	t.Parallel()
	want := inference.Acceleration{Backend: inference.BackendGPU, NumThreads: 3}
	var got inference.Acceleration
	engine := inference.EngineFunc(func(_ context.Context, _ *tensor.Dense, accel inference.Acceleration) ([]*tensor.Dense, error) {
		got = accel
		return testutil.BaselineOutputs(inputSize, 0.9), nil
	})
	opts := DefaultOptions()
	opts.Acceleration = want
	d := newDetector(t, opts, engine, split.BaselineTensorCount)
	_, err := d.Detect(context.Background(), testutil.SolidImage(t, 16, 16, color.White), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPlanTopology(t *testing.T) {
	t.Parallel()
	d := newDetector(t, DefaultOptions(), testutil.FixedEngine(nil), split.BaselineTensorCount)
	assert.Equal(t, GraphName, d.Plan().Name())
	assert.Equal(t, []string{
		calculators.KindImagePreprocessing,
		calculators.KindInference,
		calculators.KindSplitTensorVector,
		calculators.KindTensorsToFaceLandmarks,
		calculators.KindTensorsToFloats,
		calculators.KindThresholding,
		calculators.KindLandmarkLetterboxRemoval,
		calculators.KindLandmarkProjection,
		calculators.KindGate,
		calculators.KindLandmarksToDetection,
		calculators.KindDetectionToRect,
		calculators.KindRectTransformation,
		calculators.KindGate,
	}, d.Plan().NodeKinds())
}
