package nnet

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jnb666/cifarnet/num"
	"github.com/jnb666/cifarnet/stats"
	"github.com/pkg/errors"
)

// number of epochs for the moving average of the validation accuracy
const emaN = 10

// Training statistics for one epoch
type Stats struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValidLoss float64
	ValidAcc  float64
	ValidAvg  float64
	BestSince int
	Elapsed   time.Duration
}

var StatsHeaders = []string{"loss", "train acc", "valid loss", "valid acc", "valid avg"}

func (s Stats) Format() []string {
	return []string{
		fmt.Sprintf("%7.4f", s.TrainLoss),
		fmt.Sprintf("%6.2f%%", s.TrainAcc*100),
		fmt.Sprintf("%7.4f", s.ValidLoss),
		fmt.Sprintf("%6.2f%%", s.ValidAcc*100),
		fmt.Sprintf("%6.2f%%", s.ValidAvg*100),
	}
}

func (s Stats) String() string {
	msg := fmt.Sprintf("epoch %3d:", s.Epoch)
	for i, val := range s.Format() {
		msg += fmt.Sprintf("  %s =%s", StatsHeaders[i], val)
	}
	if s.BestSince >= 0 {
		msg += fmt.Sprintf(" [%d]", s.BestSince)
	}
	return msg
}

// Tester interface is called with the stats on completion of each epoch. Returning an error aborts training.
type Tester interface {
	Test(net *Network, s Stats) error
}

// TestFunc adapts a function to the Tester interface.
// EpochTime returns the mean and standard deviation of the time per epoch in seconds.
func EpochTime(list []Stats) *stats.Average {
	elapsed := make([]time.Duration, len(list))
	for i, s := range list {
		elapsed[i] = s.Elapsed
	}
	return stats.Intervals(elapsed)
}

type TestFunc func(net *Network, s Stats) error

func (f TestFunc) Test(net *Network, s Stats) error { return f(net, s) }

type testLogger struct{}

// Create a new tester which logs stats to stdout every LogEvery epochs.
func NewTestLogger() Tester {
	return testLogger{}
}

func (t testLogger) Test(net *Network, s Stats) error {
	done := s.Epoch >= net.MaxEpoch
	if done || net.LogEvery == 0 || s.Epoch%net.LogEvery == 0 {
		fmt.Println(s)
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return nil
}

type testers []Tester

// Testers combines several testers which are called in order.
func Testers(list ...Tester) Tester {
	return testers(list)
}

func (t testers) Test(net *Network, s Stats) error {
	for _, test := range t {
		if err := test.Test(net, s); err != nil {
			return err
		}
	}
	return nil
}

// Train the network for MaxEpoch epochs on the training set by updating the weights using opt.
// After each epoch the loss and accuracy on the validation set are evaluated, without
// changing the weights, and passed to test. valid and test may be nil.
func Train(ctx context.Context, net *Network, train, valid *Dataset, opt Optimizer, test Tester) ([]Stats, error) {
	if err := checkData(net, train); err != nil {
		return nil, err
	}
	if valid != nil {
		if err := checkData(net, valid); err != nil {
			return nil, err
		}
	}
	if net.DebugLevel >= 1 {
		fmt.Printf("train: samples=%d batches=%d %s\n", train.Samples, train.Batches, opt)
	}
	var history []Stats
	start := time.Now()
	for epoch := 1; epoch <= net.MaxEpoch; epoch++ {
		res, err := TrainEpoch(ctx, net, train, opt)
		if err != nil {
			return history, errors.WithMessagef(err, "epoch %d", epoch)
		}
		s := Stats{Epoch: epoch, TrainLoss: res.Loss, TrainAcc: res.Accuracy, BestSince: -1}
		if valid != nil {
			if net.DebugLevel >= 1 {
				fmt.Printf("== TEST EPOCH %d ==\n", epoch)
			}
			vres, err := validate(net, valid)
			if err != nil {
				return history, err
			}
			s.ValidLoss, s.ValidAcc = vres.Loss, vres.Accuracy
			// moving average of validation accuracy
			prevAvg := 0.0
			if epoch > 1 {
				prevAvg = history[epoch-2].ValidAvg
			}
			s.ValidAvg = stats.EMA(prevAvg).Add(vres.Accuracy, emaN)
			// get number of epochs since the average validation accuracy was lower
			for ep := epoch - 1; ep >= 1; ep-- {
				if history[ep-1].ValidAvg < s.ValidAvg {
					s.BestSince = epoch - ep - 1
					break
				}
			}
		}
		s.Elapsed = time.Since(start)
		history = append(history, s)
		if test != nil {
			if err := test.Test(net, s); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// Perform one training epoch on dataset, returns the mean loss and accuracy over the
// batches, each measured prior to updating the weights.
func TrainEpoch(ctx context.Context, net *Network, dset *Dataset, opt Optimizer) (Result, error) {
	if net.Shuffle {
		dset.Shuffle()
	}
	dset.NextEpoch()
	var grad *num.Array
	var classes []int32
	totalLoss, correct := 0.0, 0
	for batch := 0; batch < dset.Batches; batch++ {
		if err := ctx.Err(); err != nil {
			dset.Wait()
			return Result{}, err
		}
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("== train batch %d ==\n", batch)
		}
		x, y := dset.NextBatch()
		yPred := net.Fprop(x, true)
		if grad == nil || grad.Dims()[0] != len(y) {
			grad = num.NewArrayLike(yPred)
			classes = make([]int32, len(y))
		}
		loss := num.SoftmaxCrossEntropy(yPred, y, grad)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			dset.Wait()
			return Result{}, errors.Wrapf(ErrDiverged, "batch %d: loss=%g", batch, loss)
		}
		totalLoss += loss * float64(len(y))
		correct += countCorrect(yPred, y, classes)
		if net.DebugLevel >= 2 {
			fmt.Printf("yPred:\n%s\nloss: %.4f\ninput grad:\n%s\n", yPred, loss, grad)
		}
		net.Bprop(grad)
		opt.Update(net.ParamLayers())
		if net.DebugLevel >= 3 || (batch == dset.Batches-1 && net.DebugLevel >= 2) {
			net.PrintWeights()
		}
	}
	dset.Wait()
	return Result{
		Loss:     totalLoss / float64(dset.Samples),
		Accuracy: float64(correct) / float64(dset.Samples),
		Samples:  dset.Samples,
	}, nil
}

func countCorrect(yPred *num.Array, y, classes []int32) int {
	num.Unhot(yPred, classes)
	n := 0
	for i, c := range classes {
		if c == y[i] {
			n++
		}
	}
	return n
}
