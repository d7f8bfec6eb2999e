package num

import (
	"runtime"
	"sync"
)

// ConvGeom describes a 2d convolution or pooling window over a channels x height x width input.
type ConvGeom struct {
	C, H, W     int
	Size        int
	Stride, Pad int
}

// OutH returns the output height
func (g ConvGeom) OutH() int { return (g.H+2*g.Pad-g.Size)/g.Stride + 1 }

// OutW returns the output width
func (g ConvGeom) OutW() int { return (g.W+2*g.Pad-g.Size)/g.Stride + 1 }

// ColRows is the number of rows in the unrolled patch matrix: C*Size*Size
func (g ConvGeom) ColRows() int { return g.C * g.Size * g.Size }

// Im2col unrolls the patches of one C x H x W image into columns of a matrix with leading
// dimension ld, writing OutH*OutW columns starting at column offset off.
func Im2col(src []float32, g ConvGeom, dst []float32, ld, off int) {
	oh, ow := g.OutH(), g.OutW()
	row := 0
	for c := 0; c < g.C; c++ {
		plane := src[c*g.H*g.W : (c+1)*g.H*g.W]
		for ky := 0; ky < g.Size; ky++ {
			for kx := 0; kx < g.Size; kx++ {
				out := dst[row*ld+off : row*ld+off+oh*ow]
				for y := 0; y < oh; y++ {
					iy := y*g.Stride + ky - g.Pad
					for x := 0; x < ow; x++ {
						ix := x*g.Stride + kx - g.Pad
						if iy < 0 || iy >= g.H || ix < 0 || ix >= g.W {
							out[y*ow+x] = 0
						} else {
							out[y*ow+x] = plane[iy*g.W+ix]
						}
					}
				}
				row++
			}
		}
	}
}

// Col2im is the adjoint of Im2col: it accumulates the columns back into the C x H x W gradient
// image dst, which should be zeroed by the caller.
func Col2im(src []float32, g ConvGeom, ld, off int, dst []float32) {
	oh, ow := g.OutH(), g.OutW()
	row := 0
	for c := 0; c < g.C; c++ {
		plane := dst[c*g.H*g.W : (c+1)*g.H*g.W]
		for ky := 0; ky < g.Size; ky++ {
			for kx := 0; kx < g.Size; kx++ {
				in := src[row*ld+off : row*ld+off+oh*ow]
				for y := 0; y < oh; y++ {
					iy := y*g.Stride + ky - g.Pad
					if iy < 0 || iy >= g.H {
						continue
					}
					for x := 0; x < ow; x++ {
						ix := x*g.Stride + kx - g.Pad
						if ix >= 0 && ix < g.W {
							plane[iy*g.W+ix] += in[y*ow+x]
						}
					}
				}
				row++
			}
		}
	}
}

// Parallel calls f(i) for i in [0, n) spread over one goroutine per CPU and waits for completion.
// Each call must only write to memory owned by index i.
func Parallel(n int, f func(i int)) {
	threads := runtime.NumCPU()
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	next := 0
	wg.Add(threads)
	for t := 0; t < threads; t++ {
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= n {
					return
				}
				f(i)
			}
		}()
	}
	wg.Wait()
}
