// Package geometry holds the pure per-face computations: eye aspect ratio,
// perspective head pose and the coordinate transform between the detection
// pass and the full-resolution frame.
package geometry

import "github.com/andresmejia3/vigil/internal/types"

// Indices into the 68-point anatomical landmark layout.
const (
	Chin             = 8
	NoseTip          = 30
	RightEyeStart    = 36 // subject's right eye, image left
	RightEyeOuter    = 36
	LeftEyeStart     = 42
	LeftEyeOuter     = 45
	MouthLeftCorner  = 48
	MouthRightCorner = 54
	eyePoints        = 6
)

// RightEye returns the six contour points of the subject's right eye (36-41).
func RightEye(lm [types.NumLandmarks]types.Point) [eyePoints]types.Point {
	var eye [eyePoints]types.Point
	copy(eye[:], lm[RightEyeStart:RightEyeStart+eyePoints])
	return eye
}

// LeftEye returns the six contour points of the subject's left eye (42-47).
func LeftEye(lm [types.NumLandmarks]types.Point) [eyePoints]types.Point {
	var eye [eyePoints]types.Point
	copy(eye[:], lm[LeftEyeStart:LeftEyeStart+eyePoints])
	return eye
}

// poseIndices lists the landmarks matched against faceModel, in the same order.
var poseIndices = [6]int{NoseTip, Chin, RightEyeOuter, LeftEyeOuter, MouthLeftCorner, MouthRightCorner}
