// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the images, model outputs and collaborator fakes
// that the vision packages drive their graphs with.
package testutil

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/inference"
)

const (
	meshPoints = 468
	irisPoints = 5
)

// Mesh keypoints that fixtures place explicitly.
const (
	LeftEyeOuter  = 33
	RightEyeOuter = 263
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// SolidImage returns a w×h image filled with c.
func SolidImage(t testing.TB, w, h int, c color.Color) *vision.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	r, g, b, a := c.RGBA()
	px := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetRGBA(x, y, px)
		}
	}
	img, err := vision.NewImage(src)
	AssertNoError(t, err)
	return img
}

// Logit is the inverse of the sigmoid: the raw presence value a model emits
// for probability p.
func Logit(p float32) float32 {
	return float32(math.Log(float64(p) / (1 - float64(p))))
}

// MeshPoints lays the 468 mesh points out on a grid covering the middle half
// of a size×size model input, as (x, y, z) triples in input pixels. The eye
// corners sit level at a quarter of the way down the grid.
func MeshPoints(size int) []float32 {
	const cols = 22
	s := float32(size)
	lo, span := s/4, s/2
	data := make([]float32, 0, meshPoints*3)
	for i := 0; i < meshPoints; i++ {
		col, row := i%cols, i/cols
		x := lo + span*float32(col)/float32(cols-1)
		y := lo + span*float32(row)/float32(meshPoints/cols)
		data = append(data, x, y, 0)
	}
	eyeY := lo + span/4
	data[LeftEyeOuter*3], data[LeftEyeOuter*3+1] = lo+span/4, eyeY
	data[RightEyeOuter*3], data[RightEyeOuter*3+1] = lo+3*span/4, eyeY
	return data
}

func pairs(n int, x, y float32) *tensor.Dense {
	data := make([]float32, 0, 2*n)
	for i := 0; i < n; i++ {
		data = append(data, x, y)
	}
	return vision.NewTensor(data, 1, 2*n)
}

// BaselineOutputs is the 2-tensor model output for a size×size input with
// presence probability p.
func BaselineOutputs(size int, p float32) []*tensor.Dense {
	return []*tensor.Dense{
		vision.NewTensor(MeshPoints(size), 1, 1, 1, meshPoints*3),
		vision.NewTensor([]float32{Logit(p)}, 1, 1, 1, 1),
	}
}

// AttentionOutputs is the 7-tensor model output for a size×size input with
// presence probability p. Regional tensors are centred on the input.
func AttentionOutputs(size int, p float32) []*tensor.Dense {
	c := float32(size) / 2
	return []*tensor.Dense{
		vision.NewTensor(MeshPoints(size), 1, 1, 1, meshPoints*3),
		pairs(80, c, c),
		pairs(71, c, c),
		pairs(71, c, c),
		pairs(irisPoints, c-float32(size)/8, c),
		pairs(irisPoints, c+float32(size)/8, c),
		vision.NewTensor([]float32{Logit(p)}, 1, 1),
	}
}

// StaticModel answers resource queries with fixed values.
type StaticModel struct {
	Outputs int
	Width   int
	Height  int
}

// OutputTensorCount implements inference.ModelResources.
func (m StaticModel) OutputTensorCount() int { return m.Outputs }

// InputImageSpec implements inference.ModelResources.
func (m StaticModel) InputImageSpec() (inference.ImageTensorSpec, error) {
	return inference.ImageTensorSpec{Width: m.Width, Height: m.Height}, nil
}

// FixedEngine returns an engine that answers every call with outputs.
func FixedEngine(outputs []*tensor.Dense) inference.Engine {
	return inference.EngineFunc(func(ctx context.Context, _ *tensor.Dense, _ inference.Acceleration) ([]*tensor.Dense, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return outputs, nil
	})
}

// FailingEngine returns an engine that always fails with err.
func FailingEngine(err error) inference.Engine {
	return inference.EngineFunc(func(context.Context, *tensor.Dense, inference.Acceleration) ([]*tensor.Dense, error) {
		return nil, err
	})
}
