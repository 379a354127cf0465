package tensor

import (
	"fmt"
	"slices"
)

// RawTensor is the low-level tensor representation used by kernels,
// autodiff operations and optimizers.
//
// Data is stored row-major in a typed slice that matches dtype. Reshape
// returns a view sharing that slice; Clone returns a deep copy.
type RawTensor struct {
	shape  Shape    // Tensor dimensions
	stride []int    // Memory strides (row-major)
	dtype  DataType // Runtime type information
	device Device   // Compute device

	f32 []float32
	i32 []int32

	// rows lists the first-dimension indices holding non-structural values
	// when the tensor is a sparse gradient (see SparseRows).
	rows []int
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zero-initialised.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	r := &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}
	switch dtype {
	case Float32:
		r.f32 = make([]float32, shape.NumElements())
	case Int32:
		r.i32 = make([]int32, shape.NumElements())
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return r, nil
}

// Zeros creates a zero-filled float32 tensor on the CPU.
// Panics on an invalid shape, like the kernels that call it.
func Zeros(shape Shape) *RawTensor {
	r, err := NewRaw(shape, Float32, CPU)
	if err != nil {
		panic(err)
	}
	return r
}

// FromFloat32 creates a CPU float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	r, err := NewRaw(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	copy(r.f32, data)
	return r, nil
}

// FromInt32 creates a CPU int32 tensor holding a copy of data.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	r, err := NewRaw(shape, Int32, CPU)
	if err != nil {
		return nil, err
	}
	copy(r.i32, data)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// AsFloat32 returns the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return r.f32
}

// AsInt32 returns the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	return r.i32
}

// Row returns row i of a float32 tensor viewed as [Rows, Cols].
func (r *RawTensor) Row(i int) []float32 {
	cols := r.shape.Cols()
	return r.AsFloat32()[i*cols : (i+1)*cols]
}

// Clone creates a deep copy of the tensor, including sparse row metadata.
func (r *RawTensor) Clone() *RawTensor {
	return &RawTensor{
		shape:  r.shape.Clone(),
		stride: slices.Clone(r.stride),
		dtype:  r.dtype,
		device: r.device,
		f32:    slices.Clone(r.f32),
		i32:    slices.Clone(r.i32),
		rows:   slices.Clone(r.rows),
	}
}

// Reshape returns a view with a new shape sharing the same data.
// Panics if the element count differs.
func (r *RawTensor) Reshape(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("reshape: cannot view %v as %v", r.shape, shape))
	}
	return &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
		f32:    r.f32,
		i32:    r.i32,
	}
}

// To returns the tensor placed on the target device.
//
// Moving to the tensor's current device returns the tensor itself. Only
// devices with training kernels can hold tensors; any other target fails with
// ErrDeviceUnavailable.
func (r *RawTensor) To(device Device) (*RawTensor, error) {
	if device == r.device {
		return r, nil
	}
	if !device.HasKernels() {
		return nil, fmt.Errorf("move %s tensor %v to %s: %w", r.dtype, r.shape, device, ErrDeviceUnavailable)
	}
	out := r.Clone()
	out.device = device
	return out, nil
}

// SparseRows returns the first-dimension indices carried by a sparse
// gradient, or nil for a dense tensor.
//
// An embedding lookup produces a gradient that is zero everywhere except the
// rows of the looked-up ids; sparse-aware optimizers update only those rows.
func (r *RawTensor) SparseRows() []int {
	return r.rows
}

// IsSparse reports whether the tensor carries sparse row metadata.
func (r *RawTensor) IsSparse() bool {
	return r.rows != nil
}

// SetSparseRows marks the tensor as a sparse gradient over the given rows.
// Rows are deduplicated and sorted.
func (r *RawTensor) SetSparseRows(rows []int) {
	out := slices.Clone(rows)
	slices.Sort(out)
	r.rows = slices.Compact(out)
	if r.rows == nil {
		r.rows = []int{}
	}
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor[%s]%v on %s", r.dtype, r.shape, r.device)
}
