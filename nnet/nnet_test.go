package nnet

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func randArray(rng *rand.Rand, dims []int, min, max float32) *num.Array {
	a := num.NewArray(dims...)
	for i := range a.Data {
		a.Data[i] = min + rng.Float32()*(max-min)
	}
	return a
}

func randLabels(rng *rand.Rand, n, classes int) []int32 {
	y := make([]int32, n)
	for i := range y {
		y[i] = int32(rng.Intn(classes))
	}
	return y
}

func newNet(t *testing.T, inShape []int, layers ...ConfigLayer) *Network {
	net, err := New(Config{}.AddLayers(layers...), inShape, rand.New(rand.NewSource(42)))
	assert.NilError(t, err)
	return net
}

func TestLinearFprop(t *testing.T) {
	net := newNet(t, []int{3}, Linear{Nout: 2}, Activation{Atype: "relu"})
	l := net.Layers[0].(ParamLayer)
	l.SetParams(num.FromSlice([]float32{1, -1, 2, 0, 0, 1}, 3, 2), num.FromSlice([]float32{0.5, -0.5}, 2))
	x := num.FromSlice([]float32{1, 2, 3, -1, 0, 1}, 2, 3)
	out := net.Fprop(x, false)
	t.Logf("output\n%s", out)
	assert.DeepEqual(t, out.Dims(), []int{2, 2})
	// row 0: [1+4+0+0.5, -1+0+3-0.5], row 1: [-1+0+0+0.5, 1+0+1-0.5]
	assert.DeepEqual(t, out.Data, []float32{5.5, 1.5, 0, 1.5})
}

// compare analytic gradients with central differences of the loss
func gradCheck(t *testing.T, net *Network, x *num.Array, y []int32) {
	out := net.Fprop(x, true)
	grad := num.NewArrayLike(out)
	num.SoftmaxCrossEntropy(out, y, grad)
	dx := net.Bprop(grad).Copy()

	loss := func() float64 {
		return num.SoftmaxCrossEntropy(net.Fprop(x, true), y, nil)
	}
	const h = 1e-3
	check := func(name string, param *num.Array, expect []float32) {
		for i := range param.Data {
			save := param.Data[i]
			param.Data[i] = save + h
			lp := loss()
			param.Data[i] = save - h
			lm := loss()
			param.Data[i] = save
			numeric := (lp - lm) / (2 * h)
			diff := math.Abs(numeric - float64(expect[i]))
			assert.Assert(t, diff < 1e-3+2e-2*math.Abs(numeric),
				"%s[%d]: analytic %g numeric %g", name, i, expect[i], numeric)
		}
	}
	for i, l := range net.ParamLayers() {
		W, B := l.Params()
		dW, dB := l.ParamGrads()
		dWc, dBc := dW.Copy(), dB.Copy()
		t.Logf("layer %d: %s", i, l.ToString())
		check("dW", W, dWc.Data)
		check("dB", B, dBc.Data)
	}
	check("dx", x, dx.Data)
}

func TestLinearGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net := newNet(t, []int{4}, Linear{Nout: 5}, Activation{Atype: "relu"}, Linear{Nout: 3})
	x := randArray(rng, []int{3, 4}, -1, 1)
	gradCheck(t, net, x, randLabels(rng, 3, 3))
}

func TestConvGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net := newNet(t, []int{2, 5, 5}, Conv{Nfeats: 3, Size: 3}, Flatten{}, Linear{Nout: 4})
	x := randArray(rng, []int{2, 2, 5, 5}, -1, 1)
	gradCheck(t, net, x, randLabels(rng, 2, 4))
}

func TestConvPadGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := newNet(t, []int{1, 4, 4}, Conv{Nfeats: 2, Size: 3, Stride: 2, Pad: 1}, Flatten{}, Linear{Nout: 2})
	assert.DeepEqual(t, net.Layers[0].OutShape([]int{1, 4, 4}), []int{2, 2, 2})
	x := randArray(rng, []int{3, 1, 4, 4}, -1, 1)
	gradCheck(t, net, x, randLabels(rng, 3, 2))
}

func TestPoolGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net := newNet(t, []int{1, 6, 6}, Conv{Nfeats: 2, Size: 3}, MaxPool{Size: 2}, Flatten{}, Linear{Nout: 3})
	assert.DeepEqual(t, net.Layers[1].OutShape([]int{2, 4, 4}), []int{2, 2, 2})
	x := randArray(rng, []int{2, 1, 6, 6}, -1, 1)
	gradCheck(t, net, x, randLabels(rng, 2, 3))
}

func TestMaxPool(t *testing.T) {
	net := newNet(t, []int{1, 4, 4}, MaxPool{Size: 2}, Flatten{}, Linear{Nout: 1})
	x := num.FromSlice([]float32{
		1, 2, 0, 0,
		3, 4, 0, 5,
		-1, -2, 7, 7,
		-3, -4, 7, 7,
	}, 1, 1, 4, 4)
	out := net.Layers[0].Fprop(x, false)
	assert.DeepEqual(t, out.Data, []float32{4, 5, -1, 7})
	dx := net.Layers[0].Bprop(num.FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2))
	// ties go to the first element in the window
	assert.DeepEqual(t, dx.Data, []float32{
		0, 0, 0, 0,
		0, 1, 0, 2,
		3, 0, 4, 0,
		0, 0, 0, 0,
	})
}

func TestCIFAR10Network(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net, err := New(CIFAR10Config(), []int{3, 32, 32}, rng)
	assert.NilError(t, err)
	t.Log(net)
	assert.Assert(t, len(net.ParamLayers()) == 5)
	assert.Equal(t, net.Outputs(), 10)
	params := 0
	for _, l := range net.ParamLayers() {
		W, B := l.Params()
		params += W.Size() + B.Size()
		for _, b := range B.Data {
			assert.Equal(t, b, float32(0))
		}
	}
	assert.Equal(t, params, 122570)

	for _, n := range []int{1, 3} {
		out, err := net.Predict(randArray(rng, []int{n, 3, 32, 32}, 0, 1))
		assert.NilError(t, err)
		assert.DeepEqual(t, out.Dims(), []int{n, 10})
	}
	_, err = net.Predict(num.NewArray(2, 3, 16, 16))
	assert.Equal(t, errors.Cause(err), ErrShape)
	_, err = net.Predict(num.NewArray(2, 3072))
	assert.Equal(t, errors.Cause(err), ErrShape)
}

func TestCIFAR10InputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const samples = 4
	labels := make([]int32, samples)
	inputs := make([]float32, samples*3*28*28)
	for i := range labels {
		labels[i] = int32(i)
	}
	small, err := NewDataset(NewData(10, []int{3, 28, 28}, labels, inputs), 2, 0, rng)
	assert.NilError(t, err)

	_, err = New(CIFAR10Config(), small.Shape(), rng)
	assert.Equal(t, errors.Cause(err), ErrShape)
	assert.ErrorContains(t, err, "network expects [3 32 32]")

	net, err := New(CIFAR10Config(), CIFAR10Shape, rng)
	assert.NilError(t, err)
	_, err = Evaluate(net, small)
	assert.Equal(t, errors.Cause(err), ErrShape)
	opt, err := NewOptimizer(net.Config)
	assert.NilError(t, err)
	_, err = Train(context.Background(), net, small, nil, opt, nil)
	assert.Equal(t, errors.Cause(err), ErrShape)
	_, err = net.Predict(num.NewArray(2, 3, 28, 28))
	assert.Equal(t, errors.Cause(err), ErrShape)
}

func TestGlorotInit(t *testing.T) {
	net := newNet(t, []int{100}, Linear{Nout: 50})
	W, _ := net.ParamLayers()[0].Params()
	limit := float32(math.Sqrt(6.0 / 150))
	for _, w := range W.Data {
		assert.Assert(t, w >= -limit && w <= limit)
	}
	assert.Assert(t, math.Abs(num.Sum(W)/float64(W.Size())) < 0.02)
}

func TestNewErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := New(Config{}, []int{3, 32, 32}, rng)
	assert.ErrorContains(t, err, "no layers")
	_, err = New(Config{}.AddLayers(Conv{Nfeats: 4, Size: 40}), []int{3, 32, 32}, rng)
	assert.Equal(t, errors.Cause(err), ErrShape)
	_, err = New(Config{}.AddLayers(Linear{Nout: 4}), []int{3, 32, 32}, rng)
	assert.Equal(t, errors.Cause(err), ErrShape)
	_, err = New(Config{}.AddLayers(Conv{Nfeats: 4, Size: 3}), []int{3, 32, 32}, rng)
	assert.ErrorContains(t, err, "should be 1 dimensional")
	_, err = New(CIFAR10Config(), []int{3, 0, 32}, rng)
	assert.Equal(t, errors.Cause(err), ErrShape)
}

func TestDataset(t *testing.T) {
	const samples = 10
	labels := make([]int32, samples)
	inputs := make([]float32, samples)
	for i := range labels {
		labels[i] = int32(i % 3)
		inputs[i] = float32(i)
	}
	d, err := NewDataset(NewData(3, []int{1}, labels, inputs), 4, 0, rand.New(rand.NewSource(1)))
	assert.NilError(t, err)
	assert.Equal(t, d.Batches, 3)
	for epoch := 0; epoch < 2; epoch++ {
		d.Shuffle()
		d.NextEpoch()
		seen := make(map[int]bool)
		for batch := 0; batch < d.Batches; batch++ {
			x, y := d.NextBatch()
			size := 4
			if batch == 2 {
				size = 2
			}
			assert.DeepEqual(t, x.Dims(), []int{size, 1})
			for i, v := range x.Data {
				assert.Equal(t, y[i], int32(int(v)%3))
				seen[int(v)] = true
			}
		}
		assert.Equal(t, len(seen), samples)
	}
	d.Wait()
	x, y := d.GetBatch(2)
	assert.DeepEqual(t, x.Data, []float32{8, 9})
	assert.DeepEqual(t, y, []int32{2, 0})
}

func TestDatasetErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewDataset(NewData(3, []int{1}, []int32{0, 3}, []float32{0, 1}), 2, 0, rng)
	assert.Equal(t, errors.Cause(err), ErrLabel)
	_, err = NewDataset(NewData(3, []int{1}, []int32{0, -1}, []float32{0, 1}), 2, 0, rng)
	assert.Equal(t, errors.Cause(err), ErrLabel)
	_, err = NewDataset(NewData(3, []int{0}, []int32{0}, nil), 2, 0, rng)
	assert.Equal(t, errors.Cause(err), ErrShape)
	_, err = NewDataset(NewData(3, []int{1}, nil, nil), 2, 0, rng)
	assert.ErrorContains(t, err, "empty")
}

// two gaussian blobs separated along the first axis
func blobs(rng *rand.Rand, n int) Data {
	labels := make([]int32, n)
	inputs := make([]float32, 2*n)
	for i := range labels {
		labels[i] = int32(i % 2)
		inputs[2*i] = float32(4*labels[i]-2) + float32(rng.NormFloat64())*0.3
		inputs[2*i+1] = float32(rng.NormFloat64())
	}
	return NewData(2, []int{2}, labels, inputs)
}

func TestTrainAdam(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	data := blobs(rng, 40)
	conf := Config{Eta: 0.01, Shuffle: true, MaxEpoch: 20, LogEvery: 5}.AddLayers(Linear{Nout: 8}, Activation{Atype: "relu"}, Linear{Nout: 2})
	net, err := New(conf, []int{2}, rng)
	assert.NilError(t, err)
	train, err := NewDataset(data, 4, 0, rng)
	assert.NilError(t, err)
	valid, err := NewDataset(data, 16, 0, rng)
	assert.NilError(t, err)
	before, err := Evaluate(net, valid)
	assert.NilError(t, err)

	opt, err := NewOptimizer(net.Config)
	assert.NilError(t, err)
	epochs := 0
	counter := TestFunc(func(net *Network, s Stats) error {
		epochs++
		return nil
	})
	stats, err := Train(context.Background(), net, train, valid, opt, Testers(NewTestLogger(), counter))
	assert.NilError(t, err)
	assert.Equal(t, len(stats), 20)
	assert.Equal(t, epochs, 20)
	assert.Equal(t, opt.(*Adam).Steps(), 200)
	assert.Assert(t, stats[0].ValidLoss < before.Loss, "%v %v", before, stats[0])
	for i := 1; i < 5; i++ {
		assert.Assert(t, stats[i].ValidLoss < stats[i-1].ValidLoss, "epoch %d: %v", i+1, stats[:i+1])
	}
	for i := 1; i < 3; i++ {
		assert.Assert(t, stats[i].TrainLoss < stats[i-1].TrainLoss, "epoch %d: %v", i+1, stats[:i+1])
	}
	last := stats[len(stats)-1]
	assert.Assert(t, last.TrainLoss < stats[0].TrainLoss, "%v", stats)
	assert.Assert(t, last.ValidLoss < before.Loss)
	assert.Assert(t, last.ValidAcc >= 0.95, last)
	for _, s := range stats {
		assert.Assert(t, s.ValidAvg >= 0 && s.ValidAvg <= 1)
		assert.Assert(t, s.TrainAcc >= 0 && s.TrainAcc <= 1)
	}

	after, err := Evaluate(net, valid)
	assert.NilError(t, err)
	assert.Equal(t, after.Loss, last.ValidLoss)
	assert.Equal(t, after.Accuracy, last.ValidAcc)
}

func TestSGD(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := blobs(rng, 20)
	conf := Config{Optimizer: "sgd", Eta: 0.1, MaxEpoch: 10}.AddLayers(Linear{Nout: 2})
	net, err := New(conf, []int{2}, rng)
	assert.NilError(t, err)
	train, err := NewDataset(data, 5, 0, rng)
	assert.NilError(t, err)
	opt, err := NewOptimizer(conf)
	assert.NilError(t, err)
	assert.Equal(t, opt.String(), "sgd lr=0.1 decay=0")
	stats, err := Train(context.Background(), net, train, nil, opt, nil)
	assert.NilError(t, err)
	assert.Assert(t, stats[9].TrainLoss < stats[0].TrainLoss)
	assert.Equal(t, stats[0].BestSince, -1)

	_, err = NewOptimizer(Config{Optimizer: "rmsprop"})
	assert.ErrorContains(t, err, "invalid optimizer")
}

func TestEvaluate(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	net := newNet(t, []int{1, 6, 6}, Conv{Nfeats: 2, Size: 3}, Activation{Atype: "relu"}, MaxPool{Size: 2}, Flatten{}, Linear{Nout: 3})
	x := randArray(rng, []int{7, 1, 6, 6}, 0, 1)
	dset, err := NewDataset(NewData(3, []int{1, 6, 6}, randLabels(rng, 7, 3), x.Data), 3, 0, rng)
	assert.NilError(t, err)
	dset.Shuffle()

	e1, err := Evaluate(net, dset)
	assert.NilError(t, err)
	e2, err := Evaluate(net, dset)
	assert.NilError(t, err)
	assert.DeepEqual(t, e1.Logits.Data, e2.Logits.Data)
	assert.Equal(t, e1.Result, e2.Result)
	assert.DeepEqual(t, e1.Logits.Dims(), []int{7, 3})
	assert.Equal(t, e1.Samples, 7)

	// logits are in sample order and match a single forward pass
	out, err := net.Predict(x)
	assert.NilError(t, err)
	for i, v := range out.Data {
		assert.Assert(t, math.Abs(float64(v-e1.Logits.Data[i])) < 1e-5)
	}
	correct := 0
	for i := range e1.Labels {
		if num.Argmax(e1.Logits.Row(i)) == int(e1.Labels[i]) {
			correct++
		}
	}
	assert.Equal(t, e1.Accuracy, float64(correct)/7)

	other, err := NewDataset(NewData(3, []int{1, 5, 5}, []int32{0}, make([]float32, 25)), 1, 0, rng)
	assert.NilError(t, err)
	_, err = Evaluate(net, other)
	assert.Equal(t, errors.Cause(err), ErrShape)
	wide, err := NewDataset(NewData(5, []int{1, 6, 6}, []int32{4}, make([]float32, 36)), 1, 0, rng)
	assert.NilError(t, err)
	_, err = Evaluate(net, wide)
	assert.Equal(t, errors.Cause(err), ErrLabel)
}

func TestDiverged(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	inputs := []float32{1, 2, float32(math.NaN()), 0}
	net, err := New(Config{MaxEpoch: 3}.AddLayers(Linear{Nout: 2}), []int{2}, rng)
	assert.NilError(t, err)
	train, err := NewDataset(NewData(2, []int{2}, []int32{0, 1}, inputs), 2, 0, rng)
	assert.NilError(t, err)
	stats, err := Train(context.Background(), net, train, nil, NewAdam(0), nil)
	assert.Equal(t, errors.Cause(err), ErrDiverged)
	assert.ErrorContains(t, err, "epoch 1")
	assert.Equal(t, len(stats), 0)
}

func TestCancel(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	net, err := New(Config{MaxEpoch: 3}.AddLayers(Linear{Nout: 2}), []int{2}, rng)
	assert.NilError(t, err)
	train, err := NewDataset(blobs(rng, 8), 2, 0, rng)
	assert.NilError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Train(ctx, net, train, nil, NewAdam(0), nil)
	assert.Equal(t, errors.Cause(err), context.Canceled)
}

func TestConfig(t *testing.T) {
	conf := CIFAR10Config()
	assert.Equal(t, len(conf.Layers), 12)
	assert.DeepEqual(t, conf.InputShape, []int{3, 32, 32})
	assert.Equal(t, conf.Layers[2].String(), "maxPool {Size:2 Stride:2}")
	assert.Equal(t, conf.Layers[0].String(), "conv {Nfeats:32 Size:3 Stride:1 Pad:0}")

	conf, err := conf.SetString("MaxEpoch", "3")
	assert.NilError(t, err)
	conf, err = conf.SetString("Shuffle", "false")
	assert.NilError(t, err)
	conf, err = conf.SetString("Eta", "0.01")
	assert.NilError(t, err)
	assert.Equal(t, conf.MaxEpoch, 3)
	assert.Equal(t, conf.Shuffle, false)
	assert.Equal(t, conf.Eta, 0.01)
	_, err = conf.SetString("Layers", "x")
	assert.ErrorContains(t, err, "invalid config field")
	_, err = conf.SetString("TrainBatch", "abc")
	assert.ErrorContains(t, err, "setting TrainBatch")

	file := filepath.Join(t.TempDir(), "cifar10.conf")
	assert.NilError(t, conf.Save(file))
	conf2, err := LoadConfig(file)
	assert.NilError(t, err)
	assert.Equal(t, conf2.String(), conf.String())
	t.Log(conf2)
}
