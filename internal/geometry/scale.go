package geometry

import (
	"math"

	"github.com/andresmejia3/vigil/internal/types"
)

// Scale maps coordinates from a downsampled detection pass back to the
// full-resolution frame. A detector that ran on a quarter-size frame needs
// Scale{Factor: 4}.
type Scale struct {
	Factor float64
}

// Identity is the no-op transform.
var Identity = Scale{Factor: 1}

func (s Scale) apply(v int) int {
	f := s.Factor
	if f <= 0 {
		f = 1
	}
	return int(math.Round(float64(v) * f))
}

// Point scales a single point.
func (s Scale) Point(p types.Point) types.Point {
	return types.Point{X: s.apply(p.X), Y: s.apply(p.Y)}
}

// Box scales all four edges of a bounding box.
func (s Scale) Box(b types.Box) types.Box {
	return types.Box{
		Top:    s.apply(b.Top),
		Right:  s.apply(b.Right),
		Bottom: s.apply(b.Bottom),
		Left:   s.apply(b.Left),
	}
}
