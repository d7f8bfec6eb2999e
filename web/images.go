package web

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

var (
	borderOK    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	borderError = color.NRGBA{R: 255, A: 255}
)

type ImagePage struct {
	*Templates
	Page    int
	Pages   int
	Total   int
	Errors  bool
	Rows    []int
	Cols    []int
	Width   int
	Height  int
	net     *Network
	indexes []int
}

// Base data for handler functions to view the test images with their predicted classes
func NewImagePage(t *Templates, net *Network, scale float64, rows, cols int) *ImagePage {
	p := &ImagePage{Templates: t.Select("/images"), net: net, Page: 1, Rows: seq(rows), Cols: seq(cols)}
	p.Width = int(34 * scale)
	p.Height = int(34 * scale)
	return p
}

// Handler function for the grid of images, if the errors query parameter is set then
// only misclassified images are shown.
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		p.Errors = r.FormValue("errors") != ""
		p.indexes = p.indexes[:0]
		for i := range p.net.Labels {
			if !p.Errors || p.predict(i) != int(p.net.Labels[i]) {
				p.indexes = append(p.indexes, i)
			}
		}
		p.Total = len(p.indexes)
		perPage := len(p.Rows) * len(p.Cols)
		p.Pages = (p.Total + perPage - 1) / perPage
		p.Page, _ = strconv.Atoi(mux.Vars(r)["page"])
		p.Page = mod(p.Page, 1, p.Pages)
		p.Exec(w, "images", p)
	}
}

func (p *ImagePage) Prev() int { return mod(p.Page-1, 1, p.Pages) }

func (p *ImagePage) Next() int { return mod(p.Page+1, 1, p.Pages) }

// Index returns the 1 based image id at the given grid position, or 0 if it is empty.
func (p *ImagePage) Index(row, col int) int {
	i := (p.Page-1)*len(p.Rows)*len(p.Cols) + row*len(p.Cols) + col
	if i < 0 || i >= len(p.indexes) {
		return 0
	}
	return p.indexes[i] + 1
}

func (p *ImagePage) predict(i int) int {
	if i < 0 || i >= len(p.net.Pred) {
		return -1
	}
	return int(p.net.Pred[i])
}

// Label returns the class name for image id, followed by the predicted class if it differs.
func (p *ImagePage) Label(id int) string {
	if p.net.Data == nil || id < 1 || id > len(p.net.Labels) {
		return ""
	}
	classes := p.net.Data.Classes()
	lab := int(p.net.Labels[id-1])
	text := classes[lab]
	if pred := p.predict(id - 1); pred >= 0 && pred != lab {
		text += fmt.Sprintf(" => %s", classes[pred])
	}
	return text
}

// Handler function for the image data in png format. Misclassified images have a red border.
func (p *ImagePage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		id, _ := strconv.Atoi(mux.Vars(r)["id"])
		if p.net.Data == nil || id < 1 || id > p.net.Data.Len() {
			http.NotFound(w, r)
			return
		}
		pred := p.predict(id - 1)
		m := highlight(p.net.Data.Image(id-1), pred >= 0 && pred != int(p.net.Data.Labels[id-1]))
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, m)
	}
}

// Handler function for the classification report as plain text
func (p *ImagePage) Report() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if p.net.Report == nil {
			fmt.Fprintf(w, "no report: epoch %d of %d\n", p.net.Epoch(), p.net.Conf.MaxEpoch)
			return
		}
		fmt.Fprintln(w, p.net.Report)
		fmt.Fprint(w, p.net.Report.ConfusionString())
	}
}

// copy image with a 1 pixel border
func highlight(src image.Image, isError bool) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx()+2, b.Dy()+2))
	col := borderOK
	if isError {
		col = borderError
	}
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: col}, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(1, 1, b.Dx()+1, b.Dy()+1), src, b.Min, draw.Src)
	return dst
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}
