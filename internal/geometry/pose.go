package geometry

import (
	"math"

	"github.com/andresmejia3/vigil/internal/types"
	"gonum.org/v1/gonum/mat"
)

// Pose is a head orientation in degrees relative to a face looking straight
// into the camera. Pitch rotates about X, yaw about Y, roll about Z.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

type vec3 [3]float64
type mat3 [3][3]float64

// faceModel holds canonical millimetre coordinates for nose tip, chin, right
// eye outer corner, left eye outer corner, left and right mouth corners.
// Y points up and Z towards the viewer.
var faceModel = [6]vec3{
	{0.0, 0.0, 0.0},
	{0.0, -330.0, -65.0},
	{-225.0, 170.0, -135.0},
	{225.0, 170.0, -135.0},
	{-150.0, -150.0, -125.0},
	{150.0, -150.0, -125.0},
}

// modelEyeSpan is the distance between the two outer eye corners of faceModel.
const modelEyeSpan = 450.0

// frontal turns model axes into camera axes (Y down, Z away from the camera)
// for a face looking straight at the lens.
var frontal = mat3{
	{1, 0, 0},
	{0, -1, 0},
	{0, 0, -1},
}

const (
	lmMaxIterations = 100
	lmMaxDamping    = 1e12
	lmStepTolerance = 1e-10
	// maxReprojection bounds the RMS reprojection error, as a fraction of the
	// image's larger side, for a solve to count as converged.
	maxReprojection = 0.1
)

type camera struct {
	focal, cx, cy float64
}

// HeadPose estimates the head orientation from the six pose landmarks using a
// pinhole camera with focal length equal to the image width and the principal
// point at the image centre. It returns a zero Pose and false when the solve
// does not converge.
func HeadPose(lm [types.NumLandmarks]types.Point, width, height int) (Pose, bool) {
	if width <= 0 || height <= 0 {
		return Pose{}, false
	}
	cam := camera{focal: float64(width), cx: float64(width) / 2, cy: float64(height) / 2}

	var image [6][2]float64
	for i, idx := range poseIndices {
		image[i] = [2]float64{float64(lm[idx].X), float64(lm[idx].Y)}
	}

	rot, ok := solvePnP(faceModel[:], image[:], cam)
	if !ok {
		return Pose{}, false
	}
	return eulerAngles(rot), true
}

// initialTranslation places the model so that its nose tip lands on the
// observed nose tip and its eye span matches the observed one.
func initialTranslation(image [][2]float64, cam camera) (vec3, bool) {
	span := math.Hypot(image[2][0]-image[3][0], image[2][1]-image[3][1])
	if span == 0 {
		return vec3{}, false
	}
	tz := cam.focal * modelEyeSpan / span
	return vec3{
		(image[0][0] - cam.cx) * tz / cam.focal,
		(image[0][1] - cam.cy) * tz / cam.focal,
		tz,
	}, true
}

// solvePnP fits R = rodrigues(r)·frontal and t to the correspondences with
// Levenberg-Marquardt and returns rodrigues(r), the rotation away from the
// frontal pose.
func solvePnP(object []vec3, image [][2]float64, cam camera) (mat3, bool) {
	t0, ok := initialTranslation(image, cam)
	if !ok {
		return mat3{}, false
	}
	params := []float64{0, 0, 0, t0[0], t0[1], t0[2]}
	nres := 2 * len(object)

	residuals := func(p []float64) ([]float64, bool) {
		rot := mul3(rodrigues(vec3{p[0], p[1], p[2]}), frontal)
		out := make([]float64, nres)
		for i, X := range object {
			c := add3(apply3(rot, X), vec3{p[3], p[4], p[5]})
			if c[2] <= 0 {
				return nil, false
			}
			out[2*i] = cam.focal*c[0]/c[2] + cam.cx - image[i][0]
			out[2*i+1] = cam.focal*c[1]/c[2] + cam.cy - image[i][1]
		}
		return out, true
	}

	res, ok := residuals(params)
	if !ok {
		return mat3{}, false
	}
	cost := sumSquares(res)
	damping := 1e-3

	for iter := 0; iter < lmMaxIterations; iter++ {
		jac, ok := jacobian(residuals, params, nres)
		if !ok {
			return mat3{}, false
		}
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(nres, res))

		accepted := false
		var stepNorm float64
		for damping < lmMaxDamping {
			aug := mat.DenseCopyOf(&jtj)
			for i := 0; i < len(params); i++ {
				d := jtj.At(i, i)
				aug.Set(i, i, d+damping*math.Max(d, 1e-9))
			}
			var step mat.VecDense
			if err := step.SolveVec(aug, &grad); err != nil {
				damping *= 10
				continue
			}
			cand := make([]float64, len(params))
			for i := range params {
				cand[i] = params[i] - step.AtVec(i)
			}
			candRes, ok := residuals(cand)
			if ok {
				if c := sumSquares(candRes); c < cost {
					params, res, cost = cand, candRes, c
					stepNorm = mat.Norm(&step, 2)
					damping = math.Max(damping/10, 1e-12)
					accepted = true
					break
				}
			}
			damping *= 10
		}
		if !accepted || stepNorm < lmStepTolerance {
			break
		}
	}

	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mat3{}, false
		}
	}
	rms := math.Sqrt(cost / float64(len(object)))
	if rms > maxReprojection*math.Max(2*cam.cx, 2*cam.cy) {
		return mat3{}, false
	}
	return rodrigues(vec3{params[0], params[1], params[2]}), true
}

// jacobian differentiates f numerically with central differences.
func jacobian(f func([]float64) ([]float64, bool), p []float64, rows int) (*mat.Dense, bool) {
	jac := mat.NewDense(rows, len(p), nil)
	probe := make([]float64, len(p))
	for j := range p {
		h := 1e-6 * math.Max(1, math.Abs(p[j]))
		copy(probe, p)
		probe[j] = p[j] + h
		hi, ok := f(probe)
		if !ok {
			return nil, false
		}
		probe[j] = p[j] - h
		lo, ok := f(probe)
		if !ok {
			return nil, false
		}
		for i := 0; i < rows; i++ {
			jac.Set(i, j, (hi[i]-lo[i])/(2*h))
		}
	}
	return jac, true
}

// eulerAngles decomposes a rotation into pitch, yaw and roll the way an
// RQ decomposition of a projection matrix does: three Givens rotations zero
// the lower triangle, about X first, then Y, then Z.
func eulerAngles(m mat3) Pose {
	const eps = 2.220446049250313e-16

	s, c := m[2][1], m[2][2]
	z := 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qx := mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
	r := mul3(m, qx)

	s, c = -r[2][0], r[2][2]
	z = 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qy := mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
	r = mul3(r, qy)

	s, c = r[1][0], r[1][1]
	z = 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qz := mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}

	return Pose{
		Pitch: signedAngle(qx[1][1], qx[1][2]),
		Yaw:   signedAngle(qy[0][0], qy[2][0]),
		Roll:  signedAngle(qz[0][0], qz[0][1]),
	}
}

func signedAngle(cos, sin float64) float64 {
	a := math.Acos(math.Max(-1, math.Min(1, cos))) * 180 / math.Pi
	if sin < 0 {
		return -a
	}
	return a
}

// rodrigues converts an axis-angle vector into a rotation matrix.
func rodrigues(r vec3) mat3 {
	theta := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if theta < 1e-12 {
		return mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	kx, ky, kz := r[0]/theta, r[1]/theta, r[2]/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat3{
		{c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v},
	}
}

func mul3(a, b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return out
}

func apply3(m mat3, v vec3) vec3 {
	return vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func add3(a, b vec3) vec3 {
	return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}
