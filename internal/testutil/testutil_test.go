package testutil

import (
	"context"
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/inference"
)

func TestAssertHelpersPass(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	AssertError(fakeT, errors.New("something wrong"))
	assert.False(t, fakeT.Failed())
}

func TestSolidImage(t *testing.T) {
	img := SolidImage(t, 4, 3, color.White)
	assert.Equal(t, vision.ImageSize{Width: 4, Height: 3}, img.Size())
	r, _, _, _ := img.Source().At(3, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestLogitInvertsSigmoid(t *testing.T) {
	for _, p := range []float32{0.1, 0.5, 0.9} {
		x := float64(Logit(p))
		assert.InDelta(t, p, 1/(1+math.Exp(-x)), 1e-6)
	}
}

func TestMeshPointsKeepEyesLevel(t *testing.T) {
	pts := MeshPoints(192)
	require.Len(t, pts, 468*3)
	assert.Equal(t, pts[LeftEyeOuter*3+1], pts[RightEyeOuter*3+1])
	assert.Less(t, pts[LeftEyeOuter*3], pts[RightEyeOuter*3])
	for i := 0; i < len(pts); i += 3 {
		assert.GreaterOrEqual(t, pts[i], float32(48))
		assert.LessOrEqual(t, pts[i], float32(144))
	}
}

func TestOutputsHaveModelLayouts(t *testing.T) {
	assert.Len(t, BaselineOutputs(192, 0.9), 2)
	assert.Len(t, AttentionOutputs(192, 0.9), 7)
}

func TestEngines(t *testing.T) {
	outs := BaselineOutputs(8, 0.5)
	got, err := FixedEngine(outs).Run(context.Background(), nil, inference.Acceleration{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	boom := errors.New("boom")
	_, err = FailingEngine(boom).Run(context.Background(), nil, inference.Acceleration{})
	assert.ErrorIs(t, err, boom)

	spec, err := StaticModel{Outputs: 7, Width: 3, Height: 2}.InputImageSpec()
	require.NoError(t, err)
	assert.Equal(t, 3, spec.Width)
}
