package vision

import (
	"errors"
	"image"
)

// ErrNilImage is returned when an Image is built from a nil source.
var ErrNilImage = errors.New("vision: nil image")

// Image is a read-only handle to decoded pixels. It is passed by pointer to
// every per-item invocation of a batch; stages must never draw into it.
type Image struct {
	src  image.Image
	size ImageSize
}

// NewImage wraps src. The caller must not mutate src afterwards.
func NewImage(src image.Image) (*Image, error) {
	if src == nil {
		return nil, ErrNilImage
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("vision: image has empty bounds")
	}
	return &Image{src: src, size: ImageSize{Width: b.Dx(), Height: b.Dy()}}, nil
}

// Source returns the underlying pixels for read-only sampling.
func (im *Image) Source() image.Image { return im.src }

// Size returns the pixel geometry.
func (im *Image) Size() ImageSize { return im.size }

// Width returns the image width in pixels.
func (im *Image) Width() int { return im.size.Width }

// Height returns the image height in pixels.
func (im *Image) Height() int { return im.size.Height }
