// Package plots draws the training history as line plots.
package plots

import (
	"bytes"
	"math"

	"github.com/jnb666/cifarnet/nnet"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// pixels per inch for sizes given in pixels
const dpi = 96

// Default size used by Save
var (
	Width  = 6 * vg.Inch
	Height = 4 * vg.Inch
)

// Accuracy plots the training and validation accuracy per epoch with the y axis fixed to [0, 1].
func Accuracy(stats []nnet.Stats) *plot.Plot {
	p := newPlot("Model accuracy", "accuracy")
	addLines(p, 0, 1,
		series{"train", stats, func(s nnet.Stats) float64 { return s.TrainAcc }},
		series{"validation", stats, func(s nnet.Stats) float64 { return s.ValidAcc }},
	)
	return p
}

// Loss plots the training and validation loss per epoch.
func Loss(stats []nnet.Stats) *plot.Plot {
	p := newPlot("Model loss", "loss")
	ymax := 0.0
	for _, s := range stats {
		ymax = math.Max(ymax, math.Max(s.TrainLoss, s.ValidLoss))
	}
	if ymax == 0 || math.IsInf(ymax, 0) || math.IsNaN(ymax) {
		ymax = 1
	}
	addLines(p, 0, ymax,
		series{"train", stats, func(s nnet.Stats) float64 { return s.TrainLoss }},
		series{"validation", stats, func(s nnet.Stats) float64 { return s.ValidLoss }},
	)
	return p
}

// Save writes the plot to a file, the format is taken from the extension, e.g. .svg or .png
func Save(p *plot.Plot, path string) error {
	return p.Save(Width, Height, path)
}

// SVG renders the plot in svg format with the size given in pixels.
func SVG(p *plot.Plot, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Inch*vg.Length(width)/dpi, vg.Inch*vg.Length(height)/dpi, "svg")
	if err != nil {
		return nil, err
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newPlot(title, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = ylabel
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	return p
}

type series struct {
	name  string
	stats []nnet.Stats
	value func(nnet.Stats) float64
}

func addLines(p *plot.Plot, ymin, ymax float64, list ...series) {
	for i, s := range list {
		line := newLinePlot(s.stats, s.value, i, ymin, ymax)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
}

func newLinePlot(stats []nnet.Stats, value func(nnet.Stats) float64, ix int, ymin, ymax float64) linePlot {
	pts := make(plotter.XYs, len(stats))
	xmax := 1.0
	for i, s := range stats {
		pts[i].X = float64(s.Epoch)
		y := value(s)
		if math.IsNaN(y) {
			y = ymax
		}
		pts[i].Y = math.Min(math.Max(y, ymin), ymax)
		if pts[i].X > xmax {
			xmax = pts[i].X
		}
	}
	l := &plotter.Line{XYs: pts}
	l.LineStyle = plotter.DefaultLineStyle
	l.Width = vg.Points(2)
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: ymin, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
