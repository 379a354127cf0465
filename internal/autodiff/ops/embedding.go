package ops

import (
	"fmt"

	"github.com/born-ml/seqtune/internal/tensor"
)

// EmbeddingOp is a row lookup: output[i] = weight[indices[i]].
//
// Its backward pass scatter-adds each output row into the row it was read
// from, so an id looked up twice receives the sum of both gradients. The
// weight gradient is flagged sparse over the distinct rows looked up, which
// is the contract SparseAdam updates against:
//
//	indices     = [0, 1, 0]
//	grad_output = [[1, 2], [3, 4], [5, 6]]
//	grad_weight = [[6, 8], [3, 4], 0...]   SparseRows() = [0, 1]
//
// Only the weight [vocab, dim] is an input; ids carry no gradient.
type EmbeddingOp struct {
	node
	indices *tensor.RawTensor
}

// NewEmbeddingOp records output = weight[indices].
func NewEmbeddingOp(weight, indices, output *tensor.RawTensor) *EmbeddingOp {
	return &EmbeddingOp{node: newNode(output, weight), indices: indices}
}

// Backward returns the row-sparse weight gradient.
func (op *EmbeddingOp) Backward(gradOutput *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad, err := tensor.NewRaw(op.inputs[0].Shape(), tensor.Float32, backend.Device())
	if err != nil {
		panic(err)
	}
	grad.SetSparseRows(nil)
	op.ScatterInto(gradOutput, grad)
	return []*tensor.RawTensor{grad}
}

// ScatterInto adds the rows of gradOutput into dst, a [vocab, dim] gradient,
// and merges the looked-up ids into its sparse rows. A recurrent model
// looks the table up once per timestep; all lookups share one dst.
func (op *EmbeddingOp) ScatterInto(gradOutput, dst *tensor.RawTensor) {
	shape := op.inputs[0].Shape()
	vocab, dim := shape[0], shape[1]
	out, src := dst.AsFloat32(), gradOutput.AsFloat32()

	ids := op.indices.AsInt32()
	rows := append(make([]int, 0, len(dst.SparseRows())+len(ids)), dst.SparseRows()...)
	for i, id := range ids {
		row := int(id)
		if row < 0 || row >= vocab {
			panic(fmt.Sprintf("embedding backward: id %d outside vocabulary of %d", id, vocab))
		}
		rows = append(rows, row)
		r := out[row*dim : (row+1)*dim]
		for j, g := range src[i*dim : (i+1)*dim] {
			r[j] += g
		}
	}
	dst.SetSparseRows(rows)
}
