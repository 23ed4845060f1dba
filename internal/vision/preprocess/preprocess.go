// Package preprocess turns an image and a region of interest into the
// letterboxed input tensor of a landmark model.
//
// The Preprocessor interface is the collaborator contract consumed by the
// detector graph. ImagePreprocessor is the reference implementation: it
// crops the (possibly rotated) region, scales it to fit the model input
// while keeping aspect ratio, pads the remainder and emits an NHWC float32
// tensor together with the original image size and the padding fractions.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
)

var (
	// ErrInvalidOptions reports unusable model input geometry or value range.
	ErrInvalidOptions = errors.New("preprocess: invalid options")
	// ErrEmptyRegion reports a region with no pixel area.
	ErrEmptyRegion = errors.New("preprocess: region has no area")
)

// Output is the result of preprocessing one image/region pair.
type Output struct {
	Tensor    *tensor.Dense
	ImageSize vision.ImageSize
	Padding   vision.LetterboxPadding
}

// Preprocessor converts an image region into a model input tensor.
type Preprocessor interface {
	Process(ctx context.Context, img *vision.Image, rect vision.NormalizedRect) (Output, error)
}

// Options configures the reference preprocessor.
type Options struct {
	// Width and Height are the model input geometry in pixels.
	Width  int
	Height int
	// RangeMin and RangeMax bound the output tensor values. Both zero
	// means [0, 1].
	RangeMin float32
	RangeMax float32
	// UseGPU is carried for the acceleration settings; the reference
	// implementation always runs on the CPU.
	UseGPU bool
}

// ImagePreprocessor is the reference Preprocessor.
type ImagePreprocessor struct {
	opts Options
}

// New validates opts and returns a preprocessor.
func New(opts Options) (*ImagePreprocessor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: input size %dx%d", ErrInvalidOptions, opts.Width, opts.Height)
	}
	if opts.RangeMin == 0 && opts.RangeMax == 0 {
		opts.RangeMax = 1
	}
	if opts.RangeMin >= opts.RangeMax {
		return nil, fmt.Errorf("%w: range [%g, %g]", ErrInvalidOptions, opts.RangeMin, opts.RangeMax)
	}
	return &ImagePreprocessor{opts: opts}, nil
}

// Options returns the effective options.
func (p *ImagePreprocessor) Options() Options { return p.opts }

// Process implements Preprocessor.
func (p *ImagePreprocessor) Process(ctx context.Context, img *vision.Image, rect vision.NormalizedRect) (Output, error) {
	if img == nil {
		return Output{}, vision.ErrNilImage
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	size := img.Size()
	roiW, roiH := rect.PixelSize(size)
	if roiW <= 0 || roiH <= 0 {
		return Output{}, fmt.Errorf("%w: %v", ErrEmptyRegion, rect)
	}

	outW, outH := float64(p.opts.Width), float64(p.opts.Height)
	scale := math.Min(outW/roiW, outH/roiH)
	contentW, contentH := roiW*scale, roiH*scale
	padX := (outW - contentW) / 2
	padY := (outH - contentH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, p.opts.Width, p.opts.Height))
	if !p.fastPath(dst, img, rect, padX, padY, contentW, contentH) {
		cx := float64(rect.XCenter) * float64(size.Width)
		cy := float64(rect.YCenter) * float64(size.Height)
		p.affine(dst, img, cx, cy, float64(rect.Rotation), scale)
	}

	return Output{
		Tensor:    p.toTensor(dst),
		ImageSize: size,
		Padding: vision.LetterboxPadding{
			Left:   float32(padX / outW),
			Top:    float32(padY / outH),
			Right:  float32(padX / outW),
			Bottom: float32(padY / outH),
		},
	}, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// fastPath handles unrotated regions that lie inside the image with a
// crop and a plain resize. It reports false when the region does not
// qualify.
func (p *ImagePreprocessor) fastPath(dst *image.RGBA, img *vision.Image, rect vision.NormalizedRect, padX, padY, contentW, contentH float64) bool {
	if rect.Rotation != 0 {
		return false
	}
	src, ok := img.Source().(subImager)
	if !ok {
		return false
	}
	size := img.Size()
	b := img.Source().Bounds()
	x0 := float64(rect.XCenter-rect.Width/2) * float64(size.Width)
	y0 := float64(rect.YCenter-rect.Height/2) * float64(size.Height)
	x1 := float64(rect.XCenter+rect.Width/2) * float64(size.Width)
	y1 := float64(rect.YCenter+rect.Height/2) * float64(size.Height)
	crop := image.Rect(
		b.Min.X+int(math.Round(x0)), b.Min.Y+int(math.Round(y0)),
		b.Min.X+int(math.Round(x1)), b.Min.Y+int(math.Round(y1)),
	)
	if crop.Empty() || !crop.In(b) {
		return false
	}
	w, h := uint(math.Round(contentW)), uint(math.Round(contentH))
	if w == 0 || h == 0 {
		return false
	}
	scaled := resize.Resize(w, h, src.SubImage(crop), resize.Bilinear)
	at := image.Pt(int(math.Round(padX)), int(math.Round(padY)))
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(scaled.Bounds().Size())}, scaled, scaled.Bounds().Min, draw.Src)
	return true
}

// affine samples the rotated region into dst. The source-to-destination
// transform maps the region centre (cx, cy) to the centre of dst, rotates by
// -rotation and scales by scale.
func (p *ImagePreprocessor) affine(dst *image.RGBA, img *vision.Image, cx, cy, rotation, scale float64) {
	cos, sin := math.Cos(rotation), math.Sin(rotation)
	ox, oy := float64(p.opts.Width)/2, float64(p.opts.Height)/2
	b := img.Source().Bounds()
	// image coordinates are relative to the bounds origin
	cx += float64(b.Min.X)
	cy += float64(b.Min.Y)
	s2d := f64.Aff3{
		scale * cos, scale * sin, ox - scale*(cos*cx+sin*cy),
		-scale * sin, scale * cos, oy + scale*(sin*cx-cos*cy),
	}
	draw.BiLinear.Transform(dst, s2d, img.Source(), b, draw.Src, nil)
}

// toTensor converts dst to a [1, H, W, 3] float32 tensor in the configured range.
func (p *ImagePreprocessor) toTensor(dst *image.RGBA) *tensor.Dense {
	w, h := p.opts.Width, p.opts.Height
	lo, span := p.opts.RangeMin, p.opts.RangeMax-p.opts.RangeMin
	data := make([]float32, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			data = append(data,
				lo+span*float32(px[0])/255,
				lo+span*float32(px[1])/255,
				lo+span*float32(px[2])/255,
			)
		}
	}
	return vision.NewTensor(data, 1, h, w, 3)
}
