// Package vision owns the shared data model of the face landmarks detector.
//
// Responsibilities: images, normalized regions of interest, landmark lists,
// detections and the tensor helpers used at the inference boundary.
// Key types: Image, NormalizedRect, NormalizedLandmarkList, Detection.
//
// Dependency rule: vision imports no other package under internal/vision.
// Graph wiring lives in vision/graph, stage kernels in vision/calculators
// and the composition root in vision/facemesh.
package vision
