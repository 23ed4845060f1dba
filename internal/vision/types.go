package vision

import "fmt"

// NormalizedRect is a rotated region of interest in image-relative [0,1]
// coordinates. Rotation is in radians, counter-clockwise positive in the
// image plane, and is applied around the rect centre.
type NormalizedRect struct {
	XCenter  float32 `json:"x_center"`
	YCenter  float32 `json:"y_center"`
	Width    float32 `json:"width"`
	Height   float32 `json:"height"`
	Rotation float32 `json:"rotation"`
}

// WholeImageRect is the region covering the entire input image.
func WholeImageRect() NormalizedRect {
	return NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 1, Height: 1}
}

// IsZero reports whether r is the zero rect (the absent placeholder).
func (r NormalizedRect) IsZero() bool {
	return r == NormalizedRect{}
}

// String implements fmt.Stringer.
func (r NormalizedRect) String() string {
	return fmt.Sprintf("rect(c=%.4f,%.4f size=%.4fx%.4f rot=%.4f)",
		r.XCenter, r.YCenter, r.Width, r.Height, r.Rotation)
}

// NormalizedLandmark is a single keypoint. X and Y are normalized to the
// image the landmark is currently expressed in; Z uses the same scale as X.
type NormalizedLandmark struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// NormalizedLandmarkList is an ordered list of keypoints. The index of each
// landmark is semantic (e.g. 33 is the outer corner of the left eye) and is
// never reordered by any stage.
type NormalizedLandmarkList struct {
	Landmarks []NormalizedLandmark `json:"landmarks"`
}

// Len returns the number of landmarks.
func (l NormalizedLandmarkList) Len() int { return len(l.Landmarks) }

// Clone returns a deep copy so stages never alias their inputs.
func (l NormalizedLandmarkList) Clone() NormalizedLandmarkList {
	out := make([]NormalizedLandmark, len(l.Landmarks))
	copy(out, l.Landmarks)
	return NormalizedLandmarkList{Landmarks: out}
}

// ImageSize is the pixel geometry of the original input image.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LetterboxPadding is the fraction of the model input occupied by padding
// on each side, in [0,1] relative to the model input width/height.
type LetterboxPadding struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// RelativeBoundingBox is an axis-aligned box in normalized coordinates.
type RelativeBoundingBox struct {
	XMin   float32
	YMin   float32
	Width  float32
	Height float32
}

// Detection is a bounding box plus the keypoints it was derived from.
// Keypoints keep landmark indexing so rotation can be derived from them.
type Detection struct {
	Box       RelativeBoundingBox
	Keypoints []NormalizedLandmark
}
