package preprocess

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facemesh/internal/vision"
)

func solidImage(t *testing.T, w, h int, c color.RGBA) *vision.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetRGBA(x, y, c)
		}
	}
	img, err := vision.NewImage(src)
	require.NoError(t, err)
	return img
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Width: 0, Height: 192})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = New(Options{Width: 192, Height: 192, RangeMin: 1, RangeMax: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	p, err := New(Options{Width: 192, Height: 192})
	require.NoError(t, err)
	assert.Equal(t, float32(1), p.Options().RangeMax)
}

func TestProcessSquareRegionHasNoPadding(t *testing.T) {
	t.Parallel()
	p, err := New(Options{Width: 16, Height: 16})
	require.NoError(t, err)
	img := solidImage(t, 64, 64, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	out, err := p.Process(context.Background(), img, vision.WholeImageRect())
	require.NoError(t, err)
	assert.Equal(t, vision.ImageSize{Width: 64, Height: 64}, out.ImageSize)
	assert.Equal(t, vision.LetterboxPadding{}, out.Padding)
	assert.Equal(t, []int{1, 16, 16, 3}, []int(out.Tensor.Shape()))

	data, err := vision.Float32s(out.Tensor)
	require.NoError(t, err)
	// centre pixel is pure red
	i := (8*16 + 8) * 3
	assert.InDelta(t, 1.0, data[i], 1e-3)
	assert.InDelta(t, 0.0, data[i+1], 1e-3)
}

func TestProcessWideRegionIsLetterboxed(t *testing.T) {
	t.Parallel()
	p, err := New(Options{Width: 20, Height: 20, RangeMin: -1, RangeMax: 1})
	require.NoError(t, err)
	img := solidImage(t, 100, 50, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	out, err := p.Process(context.Background(), img, vision.WholeImageRect())
	require.NoError(t, err)
	assert.InDelta(t, 0, out.Padding.Left, 1e-6)
	assert.InDelta(t, 0.25, out.Padding.Top, 1e-6)
	assert.InDelta(t, 0.25, out.Padding.Bottom, 1e-6)

	data, err := vision.Float32s(out.Tensor)
	require.NoError(t, err)
	// first row is padding: the range minimum
	assert.InDelta(t, -1, data[0], 1e-6)
	// middle row is white: the range maximum
	mid := (10*20 + 10) * 3
	assert.InDelta(t, 1, data[mid], 1e-2)
}

func TestProcessRotatedRegionUsesAffinePath(t *testing.T) {
	t.Parallel()
	p, err := New(Options{Width: 8, Height: 8})
	require.NoError(t, err)
	img := solidImage(t, 32, 32, color.RGBA{G: 255, A: 255})
	rect := vision.NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 0.5, Height: 0.5, Rotation: math.Pi / 4}

	out, err := p.Process(context.Background(), img, rect)
	require.NoError(t, err)
	data, err := vision.Float32s(out.Tensor)
	require.NoError(t, err)
	centre := (4*8 + 4) * 3
	assert.InDelta(t, 1.0, data[centre+1], 1e-2)
	assert.InDelta(t, 0.0, data[centre], 1e-2)
}

func TestProcessRegionOutsideImageFallsBack(t *testing.T) {
	t.Parallel()
	p, err := New(Options{Width: 8, Height: 8})
	require.NoError(t, err)
	img := solidImage(t, 16, 16, color.RGBA{B: 255, A: 255})

	// half of the region hangs off the right edge
	rect := vision.NormalizedRect{XCenter: 1, YCenter: 0.5, Width: 1, Height: 1}
	out, err := p.Process(context.Background(), img, rect)
	require.NoError(t, err)
	data, err := vision.Float32s(out.Tensor)
	require.NoError(t, err)
	left := (4*8 + 1) * 3
	right := (4*8 + 6) * 3
	assert.InDelta(t, 1.0, data[left+2], 1e-2, "left half samples the image")
	assert.InDelta(t, 0.0, data[right+2], 1e-2, "right half is outside the image")
}

func TestProcessErrors(t *testing.T) {
	t.Parallel()
	p, err := New(Options{Width: 8, Height: 8})
	require.NoError(t, err)
	img := solidImage(t, 8, 8, color.RGBA{A: 255})

	_, err = p.Process(context.Background(), img, vision.NormalizedRect{XCenter: 0.5, YCenter: 0.5})
	assert.ErrorIs(t, err, ErrEmptyRegion)

	_, err = p.Process(context.Background(), nil, vision.WholeImageRect())
	assert.ErrorIs(t, err, vision.ErrNilImage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, img, vision.WholeImageRect())
	assert.ErrorIs(t, err, context.Canceled)
}
