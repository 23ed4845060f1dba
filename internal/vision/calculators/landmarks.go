package calculators

import (
	"context"
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/graph"
)

const (
	// MeshLandmarks is the size of the face mesh.
	MeshLandmarks = 468
	// IrisLandmarks is the number of points per iris.
	IrisLandmarks = 5
	// AttentionLandmarks is the mesh plus both irises.
	AttentionLandmarks = MeshLandmarks + 2*IrisLandmarks
)

// ErrMalformedTensor reports a landmark or score tensor whose size does not
// fit the configured decoding.
var ErrMalformedTensor = errors.New("calculators: malformed tensor")

// Refinement maps the points of the attention model's regional tensors onto
// mesh indices. The i-th (x, y) pair of a region overwrites the mesh landmark
// at Map[i]. A nil map leaves the mesh untouched for that region. Iris depth
// is the mean mesh z over the corresponding eye map.
type Refinement struct {
	Lips     []int
	LeftEye  []int
	RightEye []int
}

// LandmarksOptions configures landmark decoding.
type LandmarksOptions struct {
	// InputWidth and InputHeight are the model input geometry that raw
	// landmark coordinates are expressed in.
	InputWidth  int
	InputHeight int
	Attention   bool
	Refinement  Refinement
}

// Validate checks the geometry and refinement maps.
func (o LandmarksOptions) Validate() error {
	if o.InputWidth <= 0 || o.InputHeight <= 0 {
		return fmt.Errorf("calculators: model input %dx%d", o.InputWidth, o.InputHeight)
	}
	for name, m := range map[string][]int{
		"lips": o.Refinement.Lips, "left eye": o.Refinement.LeftEye, "right eye": o.Refinement.RightEye,
	} {
		for _, idx := range m {
			if idx < 0 || idx >= MeshLandmarks {
				return fmt.Errorf("calculators: %s refinement index %d outside mesh", name, idx)
			}
		}
	}
	return nil
}

// ExpectedLandmarks is the list length DecodeLandmarks produces.
func (o LandmarksOptions) ExpectedLandmarks() int {
	if o.Attention {
		return AttentionLandmarks
	}
	return MeshLandmarks
}

// DecodeLandmarks turns the landmark tensor group into landmarks normalized
// to the model input: x by width, y by height and z by width.
//
// The baseline group is a single mesh tensor. The attention group is, in
// order: mesh, lips, left eye, right eye, left iris, right iris.
func DecodeLandmarks(tensors []*tensor.Dense, opts LandmarksOptions) (vision.NormalizedLandmarkList, error) {
	want := 1
	if opts.Attention {
		want = 6
	}
	if len(tensors) != want {
		return vision.NormalizedLandmarkList{}, fmt.Errorf("%w: %d landmark tensors, want %d",
			ErrMalformedTensor, len(tensors), want)
	}
	mesh, err := decodePoints(tensors[0], MeshLandmarks, "mesh")
	if err != nil {
		return vision.NormalizedLandmarkList{}, err
	}
	if opts.Attention {
		r := opts.Refinement
		regions := []struct {
			name string
			t    *tensor.Dense
			m    []int
		}{
			{"lips", tensors[1], r.Lips},
			{"left eye", tensors[2], r.LeftEye},
			{"right eye", tensors[3], r.RightEye},
		}
		for _, reg := range regions {
			if err := refine(mesh, reg.t, reg.m, reg.name); err != nil {
				return vision.NormalizedLandmarkList{}, err
			}
		}
		for i, eye := range [][]int{r.LeftEye, r.RightEye} {
			iris, err := decodePoints(tensors[4+i], IrisLandmarks, "iris")
			if err != nil {
				return vision.NormalizedLandmarkList{}, err
			}
			z := meanDepth(mesh, eye)
			for j := range iris {
				iris[j].Z = z
			}
			mesh = append(mesh, iris...)
		}
	}

	w, h := float32(opts.InputWidth), float32(opts.InputHeight)
	for i := range mesh {
		mesh[i].X /= w
		mesh[i].Y /= h
		mesh[i].Z /= w
	}
	return vision.NormalizedLandmarkList{Landmarks: mesh}, nil
}

// decodePoints reads n points of 2 or more values each. Values past the
// third are ignored.
func decodePoints(t *tensor.Dense, n int, name string) ([]vision.NormalizedLandmark, error) {
	data, err := vision.Float32s(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(data) < 2*n || len(data)%n != 0 {
		return nil, fmt.Errorf("%w: %s tensor has %d values for %d points", ErrMalformedTensor, name, len(data), n)
	}
	dims := len(data) / n
	out := make([]vision.NormalizedLandmark, n)
	for i := range out {
		p := data[i*dims:]
		out[i].X, out[i].Y = p[0], p[1]
		if dims > 2 {
			out[i].Z = p[2]
		}
	}
	return out, nil
}

func refine(mesh []vision.NormalizedLandmark, t *tensor.Dense, indices []int, name string) error {
	if len(indices) == 0 {
		return nil
	}
	pts, err := decodePoints(t, len(indices), name)
	if err != nil {
		return err
	}
	for i, idx := range indices {
		mesh[idx].X = pts[i].X
		mesh[idx].Y = pts[i].Y
	}
	return nil
}

func meanDepth(mesh []vision.NormalizedLandmark, indices []int) float32 {
	if len(indices) == 0 {
		return 0
	}
	var sum float32
	for _, idx := range indices {
		sum += mesh[idx].Z
	}
	return sum / float32(len(indices))
}

// TensorsToFaceLandmarks decodes the landmark tensor group.
type TensorsToFaceLandmarks struct {
	Options LandmarksOptions
}

func (TensorsToFaceLandmarks) Kind() string { return KindTensorsToFaceLandmarks }

func (TensorsToFaceLandmarks) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[[]*tensor.Dense](TagTensors)}
}

func (TensorsToFaceLandmarks) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[vision.NormalizedLandmarkList](TagNormLandmarks)}
}

func (s TensorsToFaceLandmarks) Process(_ context.Context, pc *graph.Context) error {
	tensors, _ := graph.Get[[]*tensor.Dense](pc, TagTensors)
	list, err := DecodeLandmarks(tensors, s.Options)
	if err != nil {
		return err
	}
	graph.Set(pc, TagNormLandmarks, list)
	return nil
}
