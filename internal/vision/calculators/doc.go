// Package calculators is the closed set of stage variants the face
// landmarks graph is assembled from.
//
// Each exported kernel (DecodeLandmarks, Sigmoid, RemoveLetterbox, ...) is a
// pure function over the vision types and is tested on its own. Each stage
// type wraps one kernel behind the graph.Stage interface, declares its typed
// ports and carries its configuration. Stage values are immutable after
// construction and safe for concurrent use by many plan invocations.
package calculators

// Port tags shared by the stages in this package.
const (
	TagImage            = "IMAGE"
	TagNormRect         = "NORM_RECT"
	TagTensors          = "TENSORS"
	TagImageSize        = "IMAGE_SIZE"
	TagLetterboxPadding = "LETTERBOX_PADDING"
	TagNormLandmarks    = "NORM_LANDMARKS"
	TagLandmarks        = "LANDMARKS"
	TagLandmarkTensors  = "LANDMARK_TENSORS"
	TagPresenceTensors  = "PRESENCE_TENSORS"
	TagFloat            = "FLOAT"
	TagFlag             = "FLAG"
	TagDetection        = "DETECTION"
	TagValue            = "VALUE"
	TagAllow            = "ALLOW"
)

// Stage kinds, as reported by Kind().
const (
	KindImagePreprocessing       = "ImagePreprocessing"
	KindInference                = "Inference"
	KindSplitTensorVector        = "SplitTensorVector"
	KindTensorsToFaceLandmarks   = "TensorsToFaceLandmarks"
	KindTensorsToFloats          = "TensorsToFloats"
	KindThresholding             = "Thresholding"
	KindLandmarkLetterboxRemoval = "LandmarkLetterboxRemoval"
	KindLandmarkProjection       = "LandmarkProjection"
	KindLandmarksToDetection     = "LandmarksToDetection"
	KindDetectionToRect          = "DetectionToRect"
	KindRectTransformation       = "RectTransformation"
	KindGate                     = "Gate"
)
