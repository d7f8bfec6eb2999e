package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/jnb666/cifarnet/num"
)

// Layer interface type represents one layer of the neural net.
// Shapes passed to Init and OutShape exclude the leading batch dimension.
type Layer interface {
	Init(inShape []int) Layer
	OutShape(inShape []int) []int
	Fprop(in *num.Array, train bool) *num.Array
	Bprop(grad *num.Array) *num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand)
	Params() (W, B *num.Array)
	ParamGrads() (dW, dB *num.Array)
	SetParams(W, B *num.Array)
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "maxPool":
		cfg := new(MaxPool)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "flatten":
		return &flatten{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	if c.Stride == 0 {
		c.Stride = 1
	}
	return &conv{Conv: *c}
}

// Max pooling layer, should follow conv layer.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

func (c *MaxPool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return &maxPool{MaxPool: *c}
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

func (c *Linear) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &linear{Linear: *c}
}

// Relu activation layer. Relu is the only supported type.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	if c.Atype != "relu" {
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return &activation{Activation: *c}
}

// Flatten layer reshapes from [channels, height, width] to a vector per sample.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// convolutional layer implementation: the batch is unrolled with im2col into a single
// [C*k*k, N*P] matrix so the forward pass and both gradients are one Gemm each.
type conv struct {
	Conv
	layerBase
	paramBase
	geom num.ConvGeom
	col  *num.Array
	dcol *num.Array
	out  *num.Array
}

func (l *conv) geometry(inShape []int) num.ConvGeom {
	return num.ConvGeom{C: inShape[0], H: inShape[1], W: inShape[2], Size: l.Size, Stride: l.Stride, Pad: l.Pad}
}

func (l *conv) OutShape(inShape []int) []int {
	g := l.geometry(inShape)
	return []int{l.Nfeats, g.OutH(), g.OutW()}
}

func (l *conv) Init(inShape []int) Layer {
	if len(inShape) != 3 {
		panic("Conv: expect 3 dimensional input")
	}
	l.geom = l.geometry(inShape)
	if l.geom.OutH() < 1 || l.geom.OutW() < 1 {
		panic(fmt.Sprintf("Conv: kernel size %d too large for input %v", l.Size, inShape))
	}
	k := l.geom.ColRows()
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	l.paramBase = newParams([]int{l.Nfeats, k}, []int{l.Nfeats}, k, l.Nfeats*l.Size*l.Size)
	return l
}

func (l *conv) Fprop(in *num.Array, train bool) *num.Array {
	n := l.alloc(in)
	p := l.geom.OutH() * l.geom.OutW()
	np := n * p
	if l.col == nil || l.col.Dims()[1] != np {
		l.col = num.NewArray(l.geom.ColRows(), np)
		l.dcol = num.NewArrayLike(l.col)
		l.out = num.NewArray(l.Nfeats, np)
	}
	num.Parallel(n, func(i int) {
		num.Im2col(in.Row(i), l.geom, l.col.Data, np, i*p)
	})
	num.Gemm(1, 0, l.w, l.col, l.out, num.NoTrans, num.NoTrans)
	num.Parallel(n, func(i int) {
		dst := l.dst.Row(i)
		for f, bias := range l.b.Data {
			src := l.out.Data[f*np+i*p : f*np+(i+1)*p]
			for j, v := range src {
				dst[f*p+j] = v + bias
			}
		}
	})
	return l.dst
}

func (l *conv) Bprop(grad *num.Array) *num.Array {
	n := grad.Dims()[0]
	p := l.geom.OutH() * l.geom.OutW()
	np := n * p
	num.Parallel(n, func(i int) {
		g := grad.Row(i)
		for f := 0; f < l.Nfeats; f++ {
			copy(l.out.Data[f*np+i*p:f*np+(i+1)*p], g[f*p:(f+1)*p])
		}
	})
	for f := range l.db.Data {
		sum := float32(0)
		for _, v := range l.out.Row(f) {
			sum += v
		}
		l.db.Data[f] = sum
	}
	num.Gemm(1, 0, l.out, l.col, l.dw, num.NoTrans, num.Trans)
	num.Gemm(1, 0, l.w, l.out, l.dcol, num.Trans, num.NoTrans)
	num.Fill(l.dsrc, 0)
	num.Parallel(n, func(i int) {
		num.Col2im(l.dcol.Data, l.geom, np, i*p, l.dsrc.Row(i))
	})
	return l.dsrc
}

// max pool layer implementation, records the input index of each maximum for the backward pass
type maxPool struct {
	MaxPool
	layerBase
	geom num.ConvGeom
	mask []int32
}

func (l *maxPool) geometry(inShape []int) num.ConvGeom {
	return num.ConvGeom{C: inShape[0], H: inShape[1], W: inShape[2], Size: l.Size, Stride: l.Stride}
}

func (l *maxPool) OutShape(inShape []int) []int {
	g := l.geometry(inShape)
	return []int{inShape[0], g.OutH(), g.OutW()}
}

func (l *maxPool) Init(inShape []int) Layer {
	if len(inShape) != 3 {
		panic("MaxPool: expect 3 dimensional input")
	}
	l.geom = l.geometry(inShape)
	if l.geom.OutH() < 1 || l.geom.OutW() < 1 {
		panic(fmt.Sprintf("MaxPool: window size %d too large for input %v", l.Size, inShape))
	}
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	return l
}

func (l *maxPool) Fprop(in *num.Array, train bool) *num.Array {
	n := l.alloc(in)
	g := l.geom
	oh, ow := g.OutH(), g.OutW()
	size := g.C * oh * ow
	if len(l.mask) != n*size {
		l.mask = make([]int32, n*size)
	}
	num.Parallel(n, func(i int) {
		src, dst := in.Row(i), l.dst.Row(i)
		mask := l.mask[i*size : (i+1)*size]
		o := 0
		for c := 0; c < g.C; c++ {
			for y := 0; y < oh; y++ {
				for x := 0; x < ow; x++ {
					best := c*g.H*g.W + y*g.Stride*g.W + x*g.Stride
					for ky := 0; ky < g.Size; ky++ {
						for kx := 0; kx < g.Size; kx++ {
							ix := c*g.H*g.W + (y*g.Stride+ky)*g.W + x*g.Stride + kx
							if src[ix] > src[best] {
								best = ix
							}
						}
					}
					dst[o] = src[best]
					mask[o] = int32(best)
					o++
				}
			}
		}
	})
	return l.dst
}

func (l *maxPool) Bprop(grad *num.Array) *num.Array {
	n := grad.Dims()[0]
	num.Fill(l.dsrc, 0)
	num.Parallel(n, func(i int) {
		g, dsrc := grad.Row(i), l.dsrc.Row(i)
		mask := l.mask[i*len(g) : (i+1)*len(g)]
		for o, v := range g {
			dsrc[mask[o]] += v
		}
	})
	return l.dsrc
}

// linear layer implementation
type linear struct {
	Linear
	layerBase
	paramBase
}

func (l *linear) OutShape(inShape []int) []int {
	return []int{l.Nout}
}

func (l *linear) Init(inShape []int) Layer {
	if len(inShape) != 1 {
		panic("Linear: expect 1 dimensional input")
	}
	nIn := inShape[0]
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	l.paramBase = newParams([]int{nIn, l.Nout}, []int{l.Nout}, nIn, l.Nout)
	return l
}

func (l *linear) Fprop(in *num.Array, train bool) *num.Array {
	l.alloc(in)
	num.Copy(l.dst, l.b)
	num.Gemm(1, 1, l.src, l.w, l.dst, num.NoTrans, num.NoTrans)
	return l.dst
}

func (l *linear) Bprop(grad *num.Array) *num.Array {
	num.SumRows(1, 0, grad, l.db)
	num.Gemm(1, 0, l.src, grad, l.dw, num.Trans, num.NoTrans)
	num.Gemm(1, 0, grad, l.w, l.dsrc, num.NoTrans, num.Trans)
	return l.dsrc
}

// activation layers
type activation struct {
	Activation
	layerBase
}

func (l *activation) Init(inShape []int) Layer {
	l.layerBase = newLayerBase(inShape, inShape)
	return l
}

func (l *activation) Fprop(in *num.Array, train bool) *num.Array {
	l.alloc(in)
	num.Relu(l.src, l.dst)
	return l.dst
}

func (l *activation) Bprop(grad *num.Array) *num.Array {
	num.ReluD(l.src, grad, l.dsrc)
	return l.dsrc
}

type flatten struct {
	layerBase
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{num.Prod(inShape)}
}

func (l *flatten) Init(inShape []int) Layer {
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	return l
}

func (l *flatten) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	l.dst = in.Reshape(in.Dims()[0], -1)
	return l.dst
}

func (l *flatten) Bprop(grad *num.Array) *num.Array {
	l.dsrc = grad.Reshape(l.src.Dims()...)
	return l.dsrc
}

// base layer type, output and gradient buffers are reallocated when the batch size changes
type layerBase struct {
	inShape  []int
	outShape []int
	src      *num.Array
	dst      *num.Array
	dsrc     *num.Array
}

func newLayerBase(inShape, outShape []int) layerBase {
	return layerBase{inShape: inShape, outShape: outShape}
}

func (l *layerBase) OutShape(inShape []int) []int { return inShape }

// alloc saves the input and sizes the buffers for the batch, returns the batch size
func (l *layerBase) alloc(in *num.Array) int {
	n := in.Dims()[0]
	if l.dst == nil || l.dst.Dims()[0] != n {
		l.dst = num.NewArray(append([]int{n}, l.outShape...)...)
		l.dsrc = num.NewArray(append([]int{n}, l.inShape...)...)
	}
	l.src = in
	return n
}

// weight and bias parameters
type paramBase struct {
	w, b          *num.Array
	dw, db        *num.Array
	fanIn, fanOut int
}

func newParams(wShape, bShape []int, fanIn, fanOut int) paramBase {
	return paramBase{
		w:      num.NewArray(wShape...),
		b:      num.NewArray(bShape...),
		dw:     num.NewArray(wShape...),
		db:     num.NewArray(bShape...),
		fanIn:  fanIn,
		fanOut: fanOut,
	}
}

func (p *paramBase) Params() (W, B *num.Array) {
	return p.w, p.b
}

func (p *paramBase) ParamGrads() (dW, dB *num.Array) {
	return p.dw, p.db
}

// InitParams sets the weights from a Glorot uniform distribution and zeros the bias.
func (p *paramBase) InitParams(rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(p.fanIn+p.fanOut))
	for i := range p.w.Data {
		p.w.Data[i] = float32((2*rng.Float64() - 1) * limit)
	}
	num.Fill(p.b, 0)
}

func (p *paramBase) SetParams(W, B *num.Array) {
	num.Copy(p.w, W)
	num.Copy(p.b, B)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
