package geometry

import (
	"math"

	"github.com/andresmejia3/vigil/internal/types"
)

func dist(a, b types.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// EAR computes the eye aspect ratio of one eye contour p1..p6:
//
//	(|p2-p6| + |p3-p5|) / (2 |p1-p4|)
//
// A zero corner span yields 0 so degenerate landmarks read as a closed eye
// instead of dividing by zero.
func EAR(eye [eyePoints]types.Point) float64 {
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2.0 * horizontal)
}

// AverageEAR is the mean of both eyes' aspect ratios.
func AverageEAR(lm [types.NumLandmarks]types.Point) float64 {
	return (EAR(LeftEye(lm)) + EAR(RightEye(lm))) / 2.0
}
