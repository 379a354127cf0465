package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidShape is returned for shapes with a non-positive dimension.
var ErrInvalidShape = errors.New("invalid shape")

// Shape lists tensor dimensions, outermost first. An empty Shape is a scalar.
type Shape []int

// NumElements returns the product of the dimensions.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects zero and negative dimensions.
func (s Shape) Validate() error {
	if i := slices.IndexFunc(s, func(d int) bool { return d <= 0 }); i >= 0 {
		return fmt.Errorf("%w: dimension %d of %v is %d", ErrInvalidShape, i, s, s[i])
	}
	return nil
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	return append(Shape{}, s...)
}

// ComputeStrides returns row-major strides.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

// Rows is the product of every dimension but the last: the row count of the
// tensor viewed as a [Rows, Cols] matrix.
func (s Shape) Rows() int {
	if len(s) == 0 {
		return 1
	}
	return s[:len(s)-1].NumElements()
}

// Cols is the last dimension, 1 for a scalar.
func (s Shape) Cols() int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}
