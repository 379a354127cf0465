package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/seqtune/internal/tensor"
)

// MatMul performs op(a) @ op(b) for 2D float32 tensors, where op transposes
// its operand when the corresponding flag is set.
//
//	(M, K) @ (K, N) -> (M, N)
//
// The product is computed by gonum's blas32.Gemm; transposes are passed as
// BLAS flags and never materialised (backward uses grad @ Wᵀ and xᵀ @ grad).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor, transA, transB bool) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	if transA {
		m, k = k, m
	}
	kAlt, n := bShape[0], bShape[1]
	if transB {
		kAlt, n = n, kAlt
	}
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch %v (trans=%t) @ %v (trans=%t)", aShape, transA, bShape, transB))
	}

	result := cpu.newFloat32(tensor.Shape{m, n}, "matmul")
	blas32.Gemm(
		transpose(transA), transpose(transB),
		1,
		general(a),
		general(b),
		0,
		general(result),
	)
	return result
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

func general(t *tensor.RawTensor) blas32.General {
	shape := t.Shape()
	return blas32.General{
		Rows:   shape[0],
		Cols:   shape[1],
		Stride: shape[1],
		Data:   t.AsFloat32(),
	}
}
