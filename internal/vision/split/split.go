// Package split partitions a face landmark model's output tensor list into
// the landmark group and the presence-score group.
//
// The partition depends only on the model variant, which is resolved once
// from the model's declared output count when the pipeline is assembled.
package split

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"
)

const (
	// BaselineTensorCount is a landmarks tensor and a scores tensor.
	BaselineTensorCount = 2
	// AttentionTensorCount is 6 landmarks tensors and a scores tensor.
	AttentionTensorCount = 7
)

var (
	// ErrUnsupportedTensorCount is a construction-time error for models whose
	// output count matches neither supported layout.
	ErrUnsupportedTensorCount = errors.New("split: unsupported output tensor count")
	// ErrTensorCountMismatch is an invocation-time error when inference
	// returns a list that disagrees with the assembled policy.
	ErrTensorCountMismatch = errors.New("split: tensor list length does not match model variant")
)

// Variant identifies the model output layout.
type Variant int

const (
	// VariantBaseline is the 2-tensor layout.
	VariantBaseline Variant = iota
	// VariantAttention is the 7-tensor attention mesh layout.
	VariantAttention
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case VariantBaseline:
		return "baseline"
	case VariantAttention:
		return "attention"
	default:
		return "unknown"
	}
}

// TensorCount is the output list length the variant produces.
func (v Variant) TensorCount() int {
	if v == VariantAttention {
		return AttentionTensorCount
	}
	return BaselineTensorCount
}

// DetectVariant inspects the primary subgraph output count. Exactly 7 means
// the attention model; anything else is treated as the baseline layout.
func DetectVariant(outputCount int) Variant {
	if outputCount == AttentionTensorCount {
		return VariantAttention
	}
	return VariantBaseline
}

// Range is a half-open [Begin, End) span of the tensor list.
type Range struct {
	Begin int
	End   int
}

// Len returns the number of tensors in the range.
func (r Range) Len() int { return r.End - r.Begin }

// Policy is the immutable split configuration baked in at assembly time.
type Policy struct {
	Variant   Variant
	Landmarks Range
	Presence  Range
}

// NewPolicy resolves the split for a model declaring outputCount output
// tensors. Counts other than 2 or 7 fail assembly.
func NewPolicy(outputCount int) (Policy, error) {
	if outputCount != BaselineTensorCount && outputCount != AttentionTensorCount {
		return Policy{}, fmt.Errorf("%w: got %d, want %d or %d",
			ErrUnsupportedTensorCount, outputCount, BaselineTensorCount, AttentionTensorCount)
	}
	v := DetectVariant(outputCount)
	n := v.TensorCount()
	return Policy{
		Variant:   v,
		Landmarks: Range{Begin: 0, End: n - 1},
		Presence:  Range{Begin: n - 1, End: n},
	}, nil
}

// IsAttention reports whether the policy was resolved for the attention model.
func (p Policy) IsAttention() bool { return p.Variant == VariantAttention }

// Split returns the landmark group (all but the last tensor) and the
// presence group (exactly the last tensor). The returned slices share the
// input's backing array.
func (p Policy) Split(list []*tensor.Dense) (landmarks, presence []*tensor.Dense, err error) {
	if want := p.Presence.End; len(list) != want {
		return nil, nil, fmt.Errorf("%w: got %d tensors, %s model expects %d",
			ErrTensorCountMismatch, len(list), p.Variant, want)
	}
	return list[p.Landmarks.Begin:p.Landmarks.End], list[p.Presence.Begin:p.Presence.End], nil
}
