package nnet

import (
	"fmt"
	"math"

	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
)

// Optimizer updates the layer weights from the gradients computed by Bprop.
type Optimizer interface {
	Update(layers []ParamLayer)
	String() string
}

// NewOptimizer returns the optimizer named in the config, defaulting to Adam.
func NewOptimizer(conf Config) (Optimizer, error) {
	switch conf.Optimizer {
	case "", "adam":
		return NewAdam(conf.Eta), nil
	case "sgd":
		return &SGD{LearningRate: conf.Eta, WeightDecay: conf.Lambda}, nil
	default:
		return nil, errors.Errorf("invalid optimizer: %q", conf.Optimizer)
	}
}

// Adam optimizer with bias correction of the first and second moment estimates.
type Adam struct {
	LearningRate float64
	Beta1, Beta2 float64
	Epsilon      float64
	step         int
	m, v         map[*num.Array][]float32
}

// NewAdam returns an Adam optimizer with the usual defaults. If eta is zero then 0.001 is used.
func NewAdam(eta float64) *Adam {
	if eta == 0 {
		eta = 0.001
	}
	return &Adam{LearningRate: eta, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

func (o *Adam) String() string {
	return fmt.Sprintf("adam lr=%g beta1=%g beta2=%g eps=%g", o.LearningRate, o.Beta1, o.Beta2, o.Epsilon)
}

// Steps returns the number of updates applied so far.
func (o *Adam) Steps() int { return o.step }

func (o *Adam) Update(layers []ParamLayer) {
	if o.m == nil {
		o.m = make(map[*num.Array][]float32)
		o.v = make(map[*num.Array][]float32)
	}
	o.step++
	t := float64(o.step)
	alpha := o.LearningRate * math.Sqrt(1-math.Pow(o.Beta2, t)) / (1 - math.Pow(o.Beta1, t))
	for _, l := range layers {
		W, B := l.Params()
		dW, dB := l.ParamGrads()
		o.update(W, dW, alpha)
		o.update(B, dB, alpha)
	}
}

func (o *Adam) update(p, grad *num.Array, alpha float64) {
	m, ok := o.m[p]
	if !ok {
		m = make([]float32, p.Size())
		o.m[p] = m
		o.v[p] = make([]float32, p.Size())
	}
	v := o.v[p]
	b1, b2 := float32(o.Beta1), float32(o.Beta2)
	for i, g := range grad.Data {
		m[i] = b1*m[i] + (1-b1)*g
		v[i] = b2*v[i] + (1-b2)*g*g
		p.Data[i] -= float32(alpha * float64(m[i]) / (math.Sqrt(float64(v[i])) + o.Epsilon))
	}
}

// SGD is plain stochastic gradient descent with optional L2 weight decay.
type SGD struct {
	LearningRate float64
	WeightDecay  float64
}

func (o *SGD) String() string {
	return fmt.Sprintf("sgd lr=%g decay=%g", o.LearningRate, o.WeightDecay)
}

func (o *SGD) Update(layers []ParamLayer) {
	eta := float32(o.LearningRate)
	for _, l := range layers {
		W, B := l.Params()
		dW, dB := l.ParamGrads()
		if o.WeightDecay != 0 {
			num.Axpy(float32(o.WeightDecay), W, dW)
		}
		num.Axpy(-eta, dW, W)
		num.Axpy(-eta, dB, B)
	}
}
