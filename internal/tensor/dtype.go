// Package tensor provides the raw tensor type shared by the training stack.
package tensor

// DataType is the element type of a RawTensor.
type DataType int

// Float32 holds activations, parameters and gradients; Int32 holds token ids
// and class labels.
const (
	Float32 DataType = iota
	Int32
)

var dtypeNames = [...]string{Float32: "float32", Int32: "int32"}

func (dt DataType) String() string {
	if dt < 0 || int(dt) >= len(dtypeNames) {
		return "unknown"
	}
	return dtypeNames[dt]
}
