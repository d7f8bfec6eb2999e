package num

import (
	"fmt"
)

// Parameters for array printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Array is a general n dimensional float32 tensor similar to a numpy ndarray.
// Data is stored in row major order with the batch index as the leading dimension.
type Array struct {
	Data []float32
	dims []int
}

// NewArray allocates a zeroed array with the given shape.
func NewArray(dims ...int) *Array {
	return &Array{Data: make([]float32, Prod(dims)), dims: append([]int{}, dims...)}
}

// NewArrayLike allocates a zeroed array with the same shape as a.
func NewArrayLike(a *Array) *Array {
	return NewArray(a.dims...)
}

// FromSlice wraps an existing slice, panics if the size does not match the shape.
func FromSlice(data []float32, dims ...int) *Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("FromSlice: %d values for shape %v", len(data), dims))
	}
	return &Array{Data: data, dims: append([]int{}, dims...)}
}

// Dims returns the shape of the array
func (a *Array) Dims() []int { return a.dims }

// Size is the total number of elements
func (a *Array) Size() int { return len(a.Data) }

// Reshape returns a view on the same data with a different shape. A single -1 value is inferred.
func (a *Array) Reshape(dims ...int) *Array {
	dims = append([]int{}, dims...)
	n := len(a.Data)
	for i := range dims {
		if dims[i] == -1 {
			other := 1
			for j, dim := range dims {
				if i != j {
					if dim == -1 {
						panic("Reshape: can only have single -1 value")
					}
					other *= dim
				}
			}
			dims[i] = n / other
		}
	}
	if Prod(dims) != n {
		panic("Reshape: must be to array of same size")
	}
	return &Array{Data: a.Data, dims: dims}
}

// Row returns the slice holding entry i of the leading dimension.
func (a *Array) Row(i int) []float32 {
	stride := len(a.Data) / a.dims[0]
	return a.Data[i*stride : (i+1)*stride]
}

// Copy returns a deep copy of the array.
func (a *Array) Copy() *Array {
	return &Array{Data: append([]float32{}, a.Data...), dims: append([]int{}, a.dims...)}
}

// Formatted output
func (a *Array) String() string {
	return format(a.dims, a.Data, 0, "", false)
}

func format(dims []int, data []float32, at int, indent string, dots bool) string {
	var s string
	switch len(dims) {
	case 0:
		if dots {
			s = "    ... "
		} else {
			val := data[at]
			if abs(val) < 1 {
				val = float32(int(10000*val+0.5)) / 10000
			}
			s = fmt.Sprintf("%7.5g ", val)
		}
	case 1:
		s = "["
		for i := 0; i < dims[0]; i++ {
			dots2 := dims[0] > PrintThreshold+1 && i == PrintEdgeitems
			s += format(nil, data, at+i, "", dots || dots2)
			if dots2 {
				i = dims[0] - PrintEdgeitems - 1
			}
		}
		s += "]"
	default:
		bsize := Prod(dims[1:])
		s = indent + "[\n"
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s += indent + "   ...  ...   \n"
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			if len(dims) == 2 {
				s += indent + " " + format(dims[1:], data, at+bsize*i, "", false) + "\n"
			} else {
				s += format(dims[1:], data, at+bsize*i, indent+" ", false)
			}
		}
		s += indent + "]\n"
	}
	return s
}

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

// Product of elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// Check if two arrays are the same shape
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}

// Total size of one of more arrays in bytes
func Bytes(arr ...*Array) (bytes int) {
	for _, a := range arr {
		if a != nil {
			bytes += 4 * a.Size()
		}
	}
	return bytes
}
