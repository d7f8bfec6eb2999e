// Package report computes per class classification metrics from true and predicted labels.
package report

import (
	"fmt"
	"strings"

	"github.com/jnb666/cifarnet/num"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scores for a single class or an average over classes. Ratios with a zero denominator are zero.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

type ClassScore struct {
	Name string
	Scores
}

// Report has the metrics for a set of predictions. Confusion[i][j] counts samples of class i
// which were predicted as class j.
type Report struct {
	Classes     []ClassScore
	Accuracy    float64
	MacroAvg    Scores
	WeightedAvg Scores
	Support     int
	Confusion   [][]int
}

// Argmax returns the index of the largest value, the lowest index if there is a tie.
func Argmax(row []float32) int {
	return num.Argmax(row)
}

// Predict returns the predicted class for each row of a [N, classes] logits array.
func Predict(logits *num.Array) []int32 {
	pred := make([]int32, logits.Dims()[0])
	num.Unhot(logits, pred)
	return pred
}

// Softmax converts logits to per row probabilities.
func Softmax(logits *num.Array) *num.Array {
	prob := num.NewArrayLike(logits)
	num.Softmax(logits, prob)
	return prob
}

// New calculates the report given the class names and the true and predicted labels.
func New(classes []string, yTrue, yPred []int32) (*Report, error) {
	if len(yTrue) != len(yPred) {
		return nil, errors.Errorf("report: %d labels and %d predictions", len(yTrue), len(yPred))
	}
	nclass := len(classes)
	if nclass == 0 {
		return nil, errors.New("report: no classes")
	}
	r := &Report{Support: len(yTrue), Confusion: make([][]int, nclass)}
	for i := range r.Confusion {
		r.Confusion[i] = make([]int, nclass)
	}
	correct := 0
	for i, y := range yTrue {
		p := yPred[i]
		if y < 0 || int(y) >= nclass || p < 0 || int(p) >= nclass {
			return nil, errors.Errorf("report: sample %d label %d prediction %d out of range for %d classes", i, y, p, nclass)
		}
		r.Confusion[y][p]++
		if y == p {
			correct++
		}
	}
	r.Accuracy = ratio(correct, len(yTrue))

	precision := make([]float64, nclass)
	recall := make([]float64, nclass)
	f1 := make([]float64, nclass)
	support := make([]float64, nclass)
	r.Classes = make([]ClassScore, nclass)
	for c, name := range classes {
		tp, predicted, actual := r.Confusion[c][c], 0, 0
		for j := 0; j < nclass; j++ {
			predicted += r.Confusion[j][c]
			actual += r.Confusion[c][j]
		}
		s := Scores{Precision: ratio(tp, predicted), Recall: ratio(tp, actual), Support: actual}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes[c] = ClassScore{Name: name, Scores: s}
		precision[c], recall[c], f1[c], support[c] = s.Precision, s.Recall, s.F1, float64(actual)
	}

	r.MacroAvg = Scores{
		Precision: stat.Mean(precision, nil),
		Recall:    stat.Mean(recall, nil),
		F1:        stat.Mean(f1, nil),
		Support:   r.Support,
	}
	r.WeightedAvg = Scores{Support: r.Support}
	if floats.Sum(support) > 0 {
		r.WeightedAvg.Precision = stat.Mean(precision, support)
		r.WeightedAvg.Recall = stat.Mean(recall, support)
		r.WeightedAvg.F1 = stat.Mean(f1, support)
	}
	return r, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String formats the report as a table with a row per class followed by the averages.
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(name string, s Scores) {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, name, s.Precision, s.Recall, s.F1, s.Support)
	}
	for _, c := range r.Classes {
		row(c.Name, c.Scores)
	}
	fmt.Fprintf(&b, "\n%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Support)
	row("macro avg", r.MacroAvg)
	row("weighted avg", r.WeightedAvg)
	return b.String()
}

// ConfusionString formats the confusion matrix with true classes as rows.
func (r *Report) ConfusionString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%12s", "")
	for i := range r.Classes {
		fmt.Fprintf(&b, " %5d", i)
	}
	b.WriteString("\n")
	for i, c := range r.Classes {
		name := c.Name
		if len(name) > 8 {
			name = name[:8]
		}
		fmt.Fprintf(&b, "%2d %-9s", i, name)
		for _, n := range r.Confusion[i] {
			fmt.Fprintf(&b, " %5d", n)
		}
		b.WriteString("\n")
	}
	return b.String()
}
