// Package num contains numeric Array processing routines such as optimised matrix multiplication.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Fill array with a scalar value
func Fill(a *Array, scalar float32) {
	for i := range a.Data {
		a.Data[i] = scalar
	}
}

// Copy from src to dst, broadcast vector to matrix if needed, vector is tiled row wise
func Copy(dst, src *Array) {
	ddim, sdim := dst.Dims(), src.Dims()
	switch {
	case SameShape(ddim, sdim):
		copy(dst.Data, src.Data)
	case len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[1]:
		for i := 0; i < ddim[0]; i++ {
			copy(dst.Row(i), src.Data)
		}
	default:
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x *Array) {
	blas32.Scal(alpha, vec(x))
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y *Array) {
	if !SameShape(x.Dims(), y.Dims()) {
		panic("Axpy: arrays must be same shape")
	}
	blas32.Axpy(alpha, vec(x), vec(y))
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC *Array, aTrans, bTrans TransType) {
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, general(mA), general(mB), beta, general(mC))
}

// SumRows adds the rows of a 2d array into vector y: y <- alpha*sum(x[i,:]) + beta*y
func SumRows(alpha, beta float32, x, y *Array) {
	xdim := x.Dims()
	if len(xdim) != 2 || y.Size() != xdim[1] {
		panic("SumRows: invalid shape")
	}
	for j := range y.Data {
		y.Data[j] *= beta
	}
	for i := 0; i < xdim[0]; i++ {
		for j, v := range x.Row(i) {
			y.Data[j] += alpha * v
		}
	}
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y *Array) {
	sameSize("Relu", x, y)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		} else {
			y.Data[i] = 0
		}
	}
}

// ReluD back propagates grad through a relu with input x: y = grad if x > 0 else 0
func ReluD(x, grad, y *Array) {
	sameSize("ReluD", x, grad, y)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = grad.Data[i]
		} else {
			y.Data[i] = 0
		}
	}
}

// Softmax activation function applied to each row of x.
func Softmax(x, res *Array) {
	xdim := x.Dims()
	if len(xdim) != 2 || !SameShape(xdim, res.Dims()) {
		panic("Softmax: arrays must be 2d and same shape")
	}
	for i := 0; i < xdim[0]; i++ {
		in, out := x.Row(i), res.Row(i)
		max := in[0]
		for _, v := range in {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j, v := range in {
			e := math.Exp(float64(v - max))
			out[j] = float32(e)
			sum += e
		}
		for j := range out {
			out[j] = float32(float64(out[j]) / sum)
		}
	}
}

// SoftmaxCrossEntropy computes the mean over rows of -log(softmax(x)[label]) using the log-sum-exp form.
// If grad is not nil it is set to (softmax(x) - onehot(labels)) / rows.
func SoftmaxCrossEntropy(x *Array, labels []int32, grad *Array) float64 {
	xdim := x.Dims()
	if len(xdim) != 2 || xdim[0] != len(labels) {
		panic(fmt.Sprintf("SoftmaxCrossEntropy: invalid shape %v for %d labels", xdim, len(labels)))
	}
	if grad != nil && !SameShape(xdim, grad.Dims()) {
		panic("SoftmaxCrossEntropy: gradient must be same shape as input")
	}
	rows := float64(xdim[0])
	total := 0.0
	for i, label := range labels {
		in := x.Row(i)
		max := float64(in[0])
		for _, v := range in {
			if float64(v) > max {
				max = float64(v)
			}
		}
		sum := 0.0
		for _, v := range in {
			sum += math.Exp(float64(v) - max)
		}
		logSum := max + math.Log(sum)
		total += logSum - float64(in[label])
		if grad != nil {
			out := grad.Row(i)
			for j, v := range in {
				p := math.Exp(float64(v) - logSum)
				if j == int(label) {
					p -= 1
				}
				out[j] = float32(p / rows)
			}
		}
	}
	return total / rows
}

// Unhot converts each row of scores to the index of its largest value, lowest index wins ties.
func Unhot(x *Array, classes []int32) {
	xdim := x.Dims()
	if len(xdim) != 2 || xdim[0] != len(classes) {
		panic("Unhot: invalid array shape")
	}
	for i := range classes {
		classes[i] = int32(Argmax(x.Row(i)))
	}
}

// Argmax returns the index of the first maximum value in the slice, or -1 if it is empty.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	ix := 0
	for i, v := range x {
		if v > x[ix] {
			ix = i
		}
	}
	return ix
}

// Sum returns the sum of all the values in the array.
func Sum(a *Array) float64 {
	s := 0.0
	for _, v := range a.Data {
		s += float64(v)
	}
	return s
}

func vec(a *Array) blas32.Vector {
	return blas32.Vector{N: len(a.Data), Data: a.Data, Inc: 1}
}

func general(a *Array) blas32.General {
	dims := a.Dims()
	return blas32.General{Rows: dims[0], Cols: dims[1], Stride: dims[1], Data: a.Data}
}

func sameSize(name string, arr ...*Array) {
	for _, a := range arr[1:] {
		if a.Size() != arr[0].Size() {
			panic(name + ": arrays must be same size")
		}
	}
}
