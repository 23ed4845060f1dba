package facemesh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facemesh/internal/vision"
	"github.com/banshee-data/facemesh/internal/vision/gate"
)

func TestResultJSONAbsentValuesAreEmpty(t *testing.T) {
	t.Parallel()
	res := Result{PresenceScore: 0.25}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"norm_landmarks": {"landmarks": []},
		"face_rect_next_frame": {"x_center": 0, "y_center": 0, "width": 0, "height": 0, "rotation": 0},
		"presence": false,
		"presence_score": 0.25
	}`, string(raw))
}

func TestResultJSONPresent(t *testing.T) {
	t.Parallel()
	res := Result{
		Landmarks: gate.Some(vision.NormalizedLandmarkList{Landmarks: []vision.NormalizedLandmark{{X: 0.5, Y: 0.25}}}),
		RectNextFrame: gate.Some(vision.NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 0.75, Height: 0.75}),
		Presence:      true,
		PresenceScore: 0.75,
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"norm_landmarks": {"landmarks": [{"x": 0.5, "y": 0.25, "z": 0}]},
		"face_rect_next_frame": {"x_center": 0.5, "y_center": 0.5, "width": 0.75, "height": 0.75, "rotation": 0},
		"presence": true,
		"presence_score": 0.75
	}`, string(raw))
}

func TestBatchJSONKeepsPlaceholders(t *testing.T) {
	t.Parallel()
	b := BatchResult{
		Landmarks: []vision.NormalizedLandmarkList{
			{Landmarks: []vision.NormalizedLandmark{{X: 1}}},
			{},
		},
		RectsNextFrame: []vision.NormalizedRect{{Width: 0.5}, {}},
		Presence:       []bool{true, false},
		PresenceScores: []float32{0.5, 0},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, b))
	assert.JSONEq(t, `{
		"landmarks": [{"landmarks": [{"x": 1, "y": 0, "z": 0}]}, {"landmarks": []}],
		"face_rects_next_frame": [
			{"x_center": 0, "y_center": 0, "width": 0.5, "height": 0, "rotation": 0},
			{"x_center": 0, "y_center": 0, "width": 0, "height": 0, "rotation": 0}
		],
		"presence": [true, false],
		"presence_score": [0.5, 0]
	}`, buf.String())
}

func TestEmptyBatchJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(BatchResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"landmarks": [], "face_rects_next_frame": [], "presence": [], "presence_score": []}`, string(raw))
}
