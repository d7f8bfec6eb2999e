package nnet

import (
	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
)

// Result holds the mean loss and accuracy over a dataset.
type Result struct {
	Loss     float64
	Accuracy float64
	Samples  int
}

// Evaluation has the result of running the network forward over every sample of a dataset
// in order, together with the output logits and labels for each sample.
type Evaluation struct {
	Result
	Logits *num.Array
	Labels []int32
}

// Evaluate computes the loss and accuracy of the network on the dataset without updating
// the weights. Calling it again with unchanged weights gives identical results.
func Evaluate(net *Network, dset *Dataset) (Evaluation, error) {
	res, logits, labels, err := evaluate(net, dset, true)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{Result: res, Logits: logits, Labels: labels}, nil
}

func validate(net *Network, dset *Dataset) (Result, error) {
	res, _, _, err := evaluate(net, dset, false)
	return res, err
}

func evaluate(net *Network, dset *Dataset, keep bool) (res Result, logits *num.Array, labels []int32, err error) {
	if err = checkData(net, dset); err != nil {
		return
	}
	nout := net.Outputs()
	if keep {
		logits = num.NewArray(dset.Samples, nout)
		labels = make([]int32, dset.Samples)
	}
	classes := make([]int32, dset.BatchSize)
	totalLoss, correct := 0.0, 0
	for batch := 0; batch < dset.Batches; batch++ {
		x, y := dset.GetBatch(batch)
		yPred := net.Fprop(x, false)
		n := len(y)
		totalLoss += num.SoftmaxCrossEntropy(yPred, y, nil) * float64(n)
		correct += countCorrect(yPred, y, classes[:n])
		if keep {
			start := batch * dset.BatchSize
			copy(logits.Data[start*nout:(start+n)*nout], yPred.Data)
			copy(labels[start:start+n], y)
		}
	}
	res = Result{
		Loss:     totalLoss / float64(dset.Samples),
		Accuracy: float64(correct) / float64(dset.Samples),
		Samples:  dset.Samples,
	}
	return
}

// checkData validates that the samples and labels in dset are compatible with the network.
func checkData(net *Network, dset *Dataset) error {
	if err := net.CheckInput(append([]int{dset.BatchSize}, dset.Shape()...)); err != nil {
		return err
	}
	if nclass := len(dset.Classes()); nclass > net.Outputs() {
		return errors.Wrapf(ErrLabel, "%d classes for network with %d outputs", nclass, net.Outputs())
	}
	return nil
}
