package tensor

import (
	"fmt"
	"slices"
)

// Shape lists the dimensions of a tensor, outermost first. Dense weights are
// [out, in]; convolution kernels are [out, in, kh, kw].
type Shape []int

// NumElements returns the product of the dimensions, 1 for a scalar.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects non-positive dimensions.
func (s Shape) Validate() error {
	if i := slices.IndexFunc(s, func(d int) bool { return d <= 0 }); i >= 0 {
		return fmt.Errorf("%w: dimension %d of %v is not positive", ErrInvalidShape, i, []int(s))
	}
	return nil
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	return append(Shape{}, s...)
}

// Tail drops the leading dimension. For a kernel, Tail is the shape of one
// output channel and Tail().Tail() the shape of one filter.
func (s Shape) Tail() Shape {
	if len(s) == 0 {
		return Shape{}
	}
	return s[1:].Clone()
}
