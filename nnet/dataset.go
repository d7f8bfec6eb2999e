package nnet

import (
	"math/rand"
	"strconv"
	"sync"

	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
)

// Data interface type represents the raw data for a training or test set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
}

// Dataset type encapsulates a set of training, test or validation data.
// The next training batch is loaded in the background while the current one is in use.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	nfeat     int
	xBuffer   [2][]float32
	yBuffer   [2][]int32
	x         [2]*num.Array
	y         [2][]int32
	xEval     []float32
	yEval     []int32
	indexes   []int
	buf       int
	epoch     int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate buffers and set the batch size and maxSamples.
// The label of every sample is checked to be in range.
func NewDataset(data Data, batchSize, maxSamples int, rng *rand.Rand) (*Dataset, error) {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if d.Samples == 0 {
		return nil, errors.New("dataset is empty")
	}
	for _, dim := range data.Shape() {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrShape, "invalid sample shape %v", data.Shape())
		}
	}
	if maxSamples > 0 && d.Samples > maxSamples {
		d.Samples = maxSamples
	}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	if err := d.checkLabels(); err != nil {
		return nil, err
	}
	d.nfeat = num.Prod(data.Shape())
	for i := range d.xBuffer {
		d.xBuffer[i] = make([]float32, d.nfeat*d.BatchSize)
		d.yBuffer[i] = make([]int32, d.BatchSize)
	}
	return d, nil
}

func (d *Dataset) checkLabels() error {
	nclass := int32(len(d.Classes()))
	labels := make([]int32, d.Samples)
	d.Label(d.indexes, labels)
	for i, label := range labels {
		if label < 0 || label >= nclass {
			return errors.Wrapf(ErrLabel, "sample %d: label %d not in [0, %d)", i, label, nclass)
		}
	}
	return nil
}

func (d *Dataset) batchRange(batch int) (start, end int) {
	start = batch * d.BatchSize
	end = start + d.BatchSize
	if end > d.Samples {
		end = d.Samples
	}
	return
}

func (d *Dataset) batchArray(buf []float32, n int) *num.Array {
	return num.FromSlice(buf[:n*d.nfeat], append([]int{n}, d.Shape()...)...)
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func(batch, buf int) {
		defer d.Done()
		start, end := d.batchRange(batch)
		n := end - start
		d.Input(d.indexes[start:end], d.xBuffer[buf][:n*d.nfeat])
		d.Label(d.indexes[start:end], d.yBuffer[buf][:n])
		d.x[buf] = d.batchArray(d.xBuffer[buf], n)
		d.y[buf] = d.yBuffer[buf][:n]
	}(d.batch, d.buf)
}

// Get next batch of data. The returned arrays are valid until the following call.
func (d *Dataset) NextBatch() (x *num.Array, y []int32) {
	d.Wait()
	x, y = d.x[d.buf], d.y[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Called at start of each epoch, after any Shuffle
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.epoch++
	d.batch = 0
	d.loadBatch()
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// GetBatch returns the given batch in the original sample order, ignoring any shuffle.
// The returned arrays are valid until the following call.
func (d *Dataset) GetBatch(batch int) (x *num.Array, y []int32) {
	if d.xEval == nil {
		d.xEval = make([]float32, d.nfeat*d.BatchSize)
		d.yEval = make([]int32, d.BatchSize)
	}
	start, end := d.batchRange(batch)
	n := end - start
	index := make([]int, n)
	for i := range index {
		index[i] = start + i
	}
	d.Input(index, d.xEval[:n*d.nfeat])
	d.Label(index, d.yEval[:n])
	return d.batchArray(d.xEval, n), d.yEval[:n]
}

type data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Inputs []float32
}

// NewData function creates a new in memory data set which implements the Data interface
func NewData(nclasses int, shape []int, labels []int32, inputs []float32) Data {
	classes := make([]string, nclasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
}
