package facemesh

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/banshee-data/facemesh/internal/vision"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// resultJSON is the exported form of Result. Absent values become empty
// structures so every field is always present.
type resultJSON struct {
	Landmarks     vision.NormalizedLandmarkList `json:"norm_landmarks"`
	RectNextFrame vision.NormalizedRect         `json:"face_rect_next_frame"`
	Presence      bool                          `json:"presence"`
	PresenceScore float32                       `json:"presence_score"`
}

type batchJSON struct {
	Landmarks      []vision.NormalizedLandmarkList `json:"landmarks"`
	RectsNextFrame []vision.NormalizedRect         `json:"face_rects_next_frame"`
	Presence       []bool                          `json:"presence"`
	PresenceScores []float32                       `json:"presence_score"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Landmarks:     r.Landmarks.OrElse(EmptyLandmarks()),
		RectNextFrame: r.RectNextFrame.OrZero(),
		Presence:      r.Presence,
		PresenceScore: r.PresenceScore,
	})
}

// MarshalJSON implements json.Marshaler. Nil lists encode as empty arrays.
func (b BatchResult) MarshalJSON() ([]byte, error) {
	out := batchJSON{
		Landmarks:      make([]vision.NormalizedLandmarkList, len(b.Landmarks)),
		RectsNextFrame: b.RectsNextFrame,
		Presence:       b.Presence,
		PresenceScores: b.PresenceScores,
	}
	for i, l := range b.Landmarks {
		if l.Landmarks == nil {
			l = EmptyLandmarks()
		}
		out.Landmarks[i] = l
	}
	if out.RectsNextFrame == nil {
		out.RectsNextFrame = []vision.NormalizedRect{}
	}
	if out.Presence == nil {
		out.Presence = []bool{}
	}
	if out.PresenceScores == nil {
		out.PresenceScores = []float32{}
	}
	return json.Marshal(out)
}

// WriteJSON encodes v, typically a Result or BatchResult, as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
