package geometry

import (
	"math"
	"testing"

	"github.com/andresmejia3/vigil/internal/types"
)

func TestEAR(t *testing.T) {
	tests := []struct {
		name string
		eye  [6]types.Point
		want float64
	}{
		{
			name: "Open eye",
			// corners 30px apart, lids 10px apart on both verticals
			eye:  [6]types.Point{{X: 0, Y: 0}, {X: 10, Y: -5}, {X: 20, Y: -5}, {X: 30, Y: 0}, {X: 20, Y: 5}, {X: 10, Y: 5}},
			want: 20.0 / 60.0,
		},
		{
			name: "Closed eye",
			eye:  [6]types.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}, {X: 20, Y: 0}, {X: 10, Y: 0}},
			want: 0,
		},
		{
			name: "Coincident corners",
			eye:  [6]types.Point{{X: 5, Y: 5}, {X: 10, Y: -5}, {X: 20, Y: -5}, {X: 5, Y: 5}, {X: 20, Y: 5}, {X: 10, Y: 5}},
			want: 0, // Degenerate span is reported as 0, not a division error
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EAR(tt.eye); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EAR() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAverageEAR(t *testing.T) {
	var lm [types.NumLandmarks]types.Point
	open := [6]types.Point{{X: 0, Y: 0}, {X: 10, Y: -5}, {X: 20, Y: -5}, {X: 30, Y: 0}, {X: 20, Y: 5}, {X: 10, Y: 5}}
	for i, p := range open {
		lm[RightEyeStart+i] = p
		lm[LeftEyeStart+i] = types.Point{X: p.X + 100, Y: p.Y}
	}
	// Collapse the left eye completely
	for i := 1; i < 6; i++ {
		if i == 3 {
			continue
		}
		lm[LeftEyeStart+i].Y = 0
	}

	want := (20.0/60.0 + 0) / 2
	if got := AverageEAR(lm); math.Abs(got-want) > 1e-9 {
		t.Errorf("AverageEAR() = %v, want %v", got, want)
	}
}

func TestScale(t *testing.T) {
	s := Scale{Factor: 4}
	got := s.Box(types.Box{Top: 10, Right: 40, Bottom: 50, Left: 5})
	want := types.Box{Top: 40, Right: 160, Bottom: 200, Left: 20}
	if got != want {
		t.Errorf("Box() = %+v, want %+v", got, want)
	}

	if p := s.Point(types.Point{X: 3, Y: 7}); p != (types.Point{X: 12, Y: 28}) {
		t.Errorf("Point() = %+v", p)
	}

	// Non-positive factors behave like the identity
	b := types.Box{Top: 1, Right: 2, Bottom: 3, Left: 4}
	if got := (Scale{}).Box(b); got != b {
		t.Errorf("zero Scale changed box: %+v", got)
	}
	if got := Identity.Box(b); got != b {
		t.Errorf("Identity changed box: %+v", got)
	}
}

func rotX(deg float64) mat3 {
	a := deg * math.Pi / 180
	return mat3{{1, 0, 0}, {0, math.Cos(a), -math.Sin(a)}, {0, math.Sin(a), math.Cos(a)}}
}

func rotY(deg float64) mat3 {
	a := deg * math.Pi / 180
	return mat3{{math.Cos(a), 0, math.Sin(a)}, {0, 1, 0}, {-math.Sin(a), 0, math.Cos(a)}}
}

func rotZ(deg float64) mat3 {
	a := deg * math.Pi / 180
	return mat3{{math.Cos(a), -math.Sin(a), 0}, {math.Sin(a), math.Cos(a), 0}, {0, 0, 1}}
}

func TestEulerAngles(t *testing.T) {
	tests := []struct {
		name string
		rot  mat3
		want Pose
	}{
		{"Identity", rotX(0), Pose{}},
		{"Pitch", rotX(25), Pose{Pitch: 25}},
		{"Negative pitch", rotX(-10), Pose{Pitch: -10}},
		{"Yaw", rotY(20), Pose{Yaw: 20}},
		{"Negative yaw", rotY(-30), Pose{Yaw: -30}},
		{"Roll", rotZ(12), Pose{Roll: 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eulerAngles(tt.rot)
			if math.Abs(got.Pitch-tt.want.Pitch) > 1e-6 ||
				math.Abs(got.Yaw-tt.want.Yaw) > 1e-6 ||
				math.Abs(got.Roll-tt.want.Roll) > 1e-6 {
				t.Errorf("eulerAngles() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// projectFace renders the reference model rotated by rel away from the
// frontal pose, 1m from a 640x480 camera.
func projectFace(rel mat3) [types.NumLandmarks]types.Point {
	const w, h = 640.0, 480.0
	rot := mul3(rel, frontal)
	t := vec3{20, -10, 1000}

	var lm [types.NumLandmarks]types.Point
	for i, idx := range poseIndices {
		c := add3(apply3(rot, faceModel[i]), t)
		lm[idx] = types.Point{
			X: int(math.Round(w*c[0]/c[2] + w/2)),
			Y: int(math.Round(w*c[1]/c[2] + h/2)),
		}
	}
	return lm
}

func TestHeadPose(t *testing.T) {
	tests := []struct {
		name string
		rel  mat3
		want Pose
	}{
		{"Frontal", rotX(0), Pose{}},
		{"Turned right", rotY(20), Pose{Yaw: 20}},
		{"Turned left", rotY(-20), Pose{Yaw: -20}},
		{"Nodding", rotX(25), Pose{Pitch: 25}},
		{"Tilted", rotZ(10), Pose{Roll: 10}},
	}

	// Landmarks are integer pixels, so allow for rounding noise
	const tol = 2.0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HeadPose(projectFace(tt.rel), 640, 480)
			if !ok {
				t.Fatal("HeadPose() did not converge")
			}
			if math.Abs(got.Pitch-tt.want.Pitch) > tol ||
				math.Abs(got.Yaw-tt.want.Yaw) > tol ||
				math.Abs(got.Roll-tt.want.Roll) > tol {
				t.Errorf("HeadPose() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHeadPoseDegenerate(t *testing.T) {
	var lm [types.NumLandmarks]types.Point // every landmark at the origin

	got, ok := HeadPose(lm, 640, 480)
	if ok {
		t.Error("HeadPose() converged on collapsed landmarks")
	}
	if got != (Pose{}) {
		t.Errorf("HeadPose() = %+v, want zero pose", got)
	}

	if _, ok := HeadPose(projectFace(rotX(0)), 0, 0); ok {
		t.Error("HeadPose() accepted an empty image")
	}
}
