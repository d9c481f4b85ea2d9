package paths

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Set holds enumerated paths.
//
// In collapsed mode Width is 1 and every value is the aggregate of one path.
// In uncollapsed mode each path occupies Width consecutive values: the edge
// weights it traverses, ordered from the output layer towards the input.
type Set struct {
	Values []float64
	Width  int
}

// Len returns the number of paths.
func (s *Set) Len() int {
	if s.Width == 0 {
		return 0
	}
	return len(s.Values) / s.Width
}

// Path returns a view on the values of path i.
func (s *Set) Path(i int) []float64 {
	return s.Values[i*s.Width : (i+1)*s.Width]
}

// Sum returns the sum of all values.
func (s *Set) Sum() float64 {
	return floats.Sum(s.Values)
}

// AbsSum returns the sum of absolute values.
func (s *Set) AbsSum() float64 {
	return floats.Norm(s.Values, 1)
}

// Scale multiplies every value by f in place.
func (s *Set) Scale(f float64) {
	floats.Scale(f, s.Values)
}

// pow raises v to power with exact fast paths for the orders used by the
// path norms.
func pow(v, power float64) float64 {
	switch power {
	case 1:
		return v
	case 2:
		return v * v
	default:
		return math.Pow(v, power)
	}
}
