// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers   []Layer
	inShape  []int
	outShape []int
}

// New function creates a new network with the given layers for inputs of shape inShape,
// excluding the batch dimension, and initialises the weights from rng.
// The final layer must produce a vector of class scores. If conf.InputShape is set then inShape
// must match it.
func New(conf Config, inShape []int, rng *rand.Rand) (n *Network, err error) {
	if len(conf.Layers) == 0 {
		return nil, errors.New("network config has no layers")
	}
	if len(inShape) == 0 {
		return nil, errors.Wrapf(ErrShape, "invalid input shape %v", inShape)
	}
	for _, dim := range inShape {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrShape, "invalid input shape %v", inShape)
		}
	}
	if len(conf.InputShape) > 0 && !num.SameShape(conf.InputShape, inShape) {
		return nil, errors.Wrapf(ErrShape, "input shape %v, network expects %v", inShape, conf.InputShape)
	}
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, errors.Wrapf(ErrShape, "%v", r)
		}
	}()
	n = &Network{Config: conf, inShape: append([]int{}, inShape...)}
	shape := n.inShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal().Init(shape)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	if len(shape) != 1 {
		return nil, errors.Wrapf(ErrShape, "output shape %v should be 1 dimensional", shape)
	}
	n.outShape = shape
	n.InitWeights(rng)
	return n, nil
}

// InShape is the shape of a single input sample.
func (n *Network) InShape() []int { return n.inShape }

// Outputs is the number of output classes.
func (n *Network) Outputs() int { return n.outShape[0] }

// ParamLayers returns the layers with trainable weights in order.
func (n *Network) ParamLayers() []ParamLayer {
	var layers []ParamLayer
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			layers = append(layers, l)
		}
	}
	return layers
}

// Initialise network weights using the Glorot uniform distribution with zero bias.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, l := range n.ParamLayers() {
		l.InitParams(rng)
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Copy weights and bias arrays to destination net
func (n *Network) CopyTo(net *Network) {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			net.Layers[i].(ParamLayer).SetParams(W, B)
		}
	}
}

// Feed forward the input to get the output logits. No shape checks are done, see Predict.
func (n *Network) Fprop(input *num.Array, train bool) *num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			fmt.Printf("layer %d input\n%s\n", i, pred)
		}
		pred = layer.Fprop(pred, train)
	}
	return pred
}

// Back propagate the gradient of the loss with respect to the logits, accumulating the
// parameter gradients in each layer.
func (n *Network) Bprop(grad *num.Array) *num.Array {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
	}
	return grad
}

// CheckInput returns ErrShape if the input dimensions are not [batch, inShape...].
func (n *Network) CheckInput(dims []int) error {
	if len(dims) != len(n.inShape)+1 || dims[0] < 1 || !num.SameShape(dims[1:], n.inShape) {
		return errors.Wrapf(ErrShape, "got %v, expecting [N %s]", dims, strings.Trim(fmt.Sprint(n.inShape), "[]"))
	}
	return nil
}

// Predict returns the [N, classes] output logits for a batch of inputs. The result is
// overwritten by the next call.
func (n *Network) Predict(input *num.Array) (*num.Array, error) {
	if err := n.CheckInput(input.Dims()); err != nil {
		return nil, err
	}
	yPred := n.Fprop(input, false)
	if n.DebugLevel >= 2 {
		fmt.Printf("yPred\n%s\n", yPred)
	}
	return yPred, nil
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	params := 0
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			params += W.Size() + B.Size()
		}
		shape = layer.OutShape(shape)
	}
	s = append(s, fmt.Sprintf("output %v  trainable params: %d", shape, params))
	return fmt.Sprintf("%s\n== Network ==\n%s", n.Config.configString(), strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			fmt.Printf("== Layer %d weights ==\n%s %s\n", i, W, B)
		}
	}
}

// SetSeed returns a random source with the given seed, or a time based seed if seed <= 0
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}
