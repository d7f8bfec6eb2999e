// Package stats has running statistics used to summarise training progress.
package stats

import (
	"fmt"
	"html/template"
	"math"
	"time"
)

// Calc exponentional moving average over approximately n values
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
		s.oldM, s.oldV = s.Mean, s.Var
		s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
	}
}

func (s *Average) String() string {
	if s.Mean > 10 {
		return fmt.Sprintf("%.1f±%.1f", s.Mean, s.StdDev)
	}
	return fmt.Sprintf("%.3f±%.3f", s.Mean, s.StdDev)
}

func (s *Average) HTML() template.HTML {
	var text string
	if s.Mean > 10 {
		if s.StdDev < 0.1 {
			text = fmt.Sprintf("%.1f", s.Mean)
		} else {
			text = fmt.Sprintf("%.1f&PlusMinus;%.1f", s.Mean, s.StdDev)
		}
	} else {
		if s.StdDev < 0.01 {
			text = fmt.Sprintf("%.2f", s.Mean)
		} else {
			text = fmt.Sprintf("%.2f&PlusMinus;%.2f", s.Mean, s.StdDev)
		}
	}
	return template.HTML(text)
}

// Intervals returns the mean and standard deviation in seconds of the time between successive
// values of a cumulative elapsed time, e.g. the run time at the end of each epoch.
func Intervals(elapsed []time.Duration) *Average {
	avg := new(Average)
	var prev time.Duration
	for _, t := range elapsed {
		avg.Add((t - prev).Seconds())
		prev = t
	}
	return avg
}
