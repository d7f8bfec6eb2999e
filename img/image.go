// Package img contains routines for loading and manipulating sets of images.
package img

import (
	"image"
	"image/color"
)

// RGBModel converts any color to an RGB value with channels scaled to 0-1
var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R), clampu(c.G), clampu(c.B), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Normalise maps a raw 8 bit intensity onto the range 0-1.
func Normalise(v uint8) float32 {
	return float32(v) / 255
}

// Denormalise is the inverse of Normalise.
func Denormalise(v float32) float32 {
	return v * 255
}

// Image stores the pixel data as float32 values in channel, row, column order with the r, g and b
// color planes stored separately. It implements the draw.Image interface.
type Image struct {
	Pix      []float32
	Height   int
	Width    int
	Channels int
}

// NewRGB allocates a new 3 channel image.
func NewRGB(width, height int) *Image {
	return &Image{Pix: make([]float32, height*width*3), Height: height, Width: width, Channels: 3}
}

// NewImageLike allocates a blank image with the same shape as src.
func NewImageLike(src *Image) *Image {
	return &Image{Pix: make([]float32, len(src.Pix)), Height: src.Height, Width: src.Width, Channels: src.Channels}
}

func (m *Image) ColorModel() color.Model {
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	plane := m.Width * m.Height
	ix := y*m.Width + x
	return RGB{R: m.Pix[ix], G: m.Pix[ix+plane], B: m.Pix[ix+2*plane]}
}

func (m *Image) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	m.setRGB(y*m.Width+x, rgb.R, rgb.G, rgb.B)
}

// SetRaw sets the pixel at x, y from 8 bit channel values, normalised to 0-1.
func (m *Image) SetRaw(x, y int, r, g, b uint8) {
	m.setRGB(y*m.Width+x, Normalise(r), Normalise(g), Normalise(b))
}

func (m *Image) setRGB(ix int, r, g, b float32) {
	plane := m.Width * m.Height
	m.Pix[ix] = r
	m.Pix[ix+plane] = g
	m.Pix[ix+2*plane] = b
}

// Pixels returns the data for one colour channel, or all of them if ch is out of range.
func (m *Image) Pixels(ch int) []float32 {
	plane := m.Width * m.Height
	if ch >= 0 && ch < m.Channels {
		return m.Pix[ch*plane : (ch+1)*plane]
	}
	return m.Pix
}

func clampu(x float32) uint32 {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return uint32(x * 0xffff)
}
