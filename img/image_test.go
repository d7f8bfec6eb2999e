package img

import (
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
	"gotest.tools/v3/assert"
)

func TestNormalise(t *testing.T) {
	for v := 0; v <= 255; v++ {
		x := Normalise(uint8(v))
		assert.Assert(t, x >= 0 && x <= 1, "%d => %g", v, x)
		back := Denormalise(x)
		assert.Assert(t, math.Abs(float64(back)-float64(v)) < 1e-4, "%d round trips to %g", v, back)
	}
	assert.Equal(t, Normalise(0), float32(0))
	assert.Equal(t, Normalise(255), float32(1))
}

func TestImage(t *testing.T) {
	m := NewRGB(4, 2)
	m.SetRaw(3, 1, 255, 0, 51)
	assert.Equal(t, len(m.Pix), 24)
	assert.DeepEqual(t, m.RGBAt(3, 1), RGB{R: 1, G: 0, B: 0.2})
	assert.Equal(t, m.Pixels(0)[7], float32(1))
	assert.Equal(t, m.Pixels(2)[7], float32(0.2))
	assert.Equal(t, len(m.Pixels(-1)), 24)

	m.Set(0, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	assert.Equal(t, m.Pixels(1)[0], float32(1))
	r, g, b, _ := m.At(0, 0).RGBA()
	assert.Equal(t, r, uint32(0))
	assert.Equal(t, g, uint32(0xffff))
	assert.Equal(t, b, uint32(0))
	// out of bounds is ignored
	m.Set(10, 10, color.White)
	assert.DeepEqual(t, m.RGBAt(10, 10), RGB{})
}

func record(label uint8, fill uint8) []byte {
	rec := make([]byte, imageBytes)
	rec[0] = label
	for i := 1; i < imageBytes; i++ {
		rec[i] = fill
	}
	// distinguish channels at the first pixel
	rec[1], rec[1+imageSize], rec[1+2*imageSize] = 10, 20, 30
	return rec
}

func writeBatch(t *testing.T, dir, name string, compress bool, recs ...[]byte) {
	var buf bytes.Buffer
	for _, r := range recs {
		buf.Write(r)
	}
	data := buf.Bytes()
	if compress {
		var zbuf bytes.Buffer
		w, err := xz.NewWriter(&zbuf)
		assert.NilError(t, err)
		_, err = w.Write(data)
		assert.NilError(t, err)
		assert.NilError(t, w.Close())
		data = zbuf.Bytes()
		name += ".xz"
	}
	assert.NilError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func TestLoadCIFAR10(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		writeBatch(t, dir, "data_batch_"+string(rune('0'+i))+".bin", i%2 == 0, record(uint8(i), 255), record(9, 0))
	}
	writeBatch(t, dir, "test_batch.bin", true, record(3, 128))

	train, test, err := LoadCIFAR10(dir)
	assert.NilError(t, err)
	assert.Equal(t, train.Len(), 10)
	assert.Equal(t, test.Len(), 1)
	assert.DeepEqual(t, train.Shape(), []int{3, 32, 32})
	assert.DeepEqual(t, train.Classes(), CIFAR10Classes)
	assert.DeepEqual(t, train.Labels[:4], []int32{1, 9, 2, 9})

	first := train.Image(0)
	assert.DeepEqual(t, first.RGBAt(0, 0), RGB{R: Normalise(10), G: Normalise(20), B: Normalise(30)})
	assert.Equal(t, first.Pixels(1)[5], float32(1))
	assert.Equal(t, test.Image(0).Pixels(0)[100], Normalise(128))

	buf := make([]float32, 2*3*imageSize)
	train.Input([]int{1, 0}, buf)
	assert.Equal(t, buf[5], float32(0))
	assert.Equal(t, buf[3*imageSize+5], float32(1))
}

func TestLoadCIFAR10Errors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadCIFAR10(dir)
	assert.ErrorContains(t, err, "not found")

	// truncated record
	writeBatch(t, dir, "data_batch_1.bin", false, record(1, 1)[:100])
	_, _, err = LoadCIFAR10(dir)
	assert.ErrorContains(t, err, "incomplete record")
}

func TestNewData(t *testing.T) {
	images := []*Image{NewRGB(32, 32), NewRGB(32, 32)}
	_, err := NewData(CIFAR10Classes, []int32{0}, images)
	assert.ErrorContains(t, err, "1 labels for 2 images")
	_, err = NewData(CIFAR10Classes, []int32{0, 10}, images)
	assert.ErrorContains(t, err, "out of range")
	_, err = NewData(CIFAR10Classes, []int32{0, 1}, []*Image{NewRGB(32, 32), NewRGB(16, 32)})
	assert.ErrorContains(t, err, "expecting 32x32x3")
	d, err := NewData(CIFAR10Classes, []int32{0, 1}, images)
	assert.NilError(t, err)
	assert.Equal(t, d.Slice(1, 2).Len(), 1)
}

func TestSaveLoad(t *testing.T) {
	m := NewRGB(32, 32)
	m.SetRaw(1, 2, 3, 4, 5)
	d, err := NewData(CIFAR10Classes, []int32{7}, []*Image{m})
	assert.NilError(t, err)
	d.Mean, d.StdDev = GetStats(d.Images)
	file := filepath.Join(t.TempDir(), "cifar10_test.dat.xz")
	assert.NilError(t, d.Save(file))
	d2, err := LoadDataFile(file)
	assert.NilError(t, err)
	assert.DeepEqual(t, d2.DataHead, d.DataHead)
	assert.DeepEqual(t, d2.Images[0].Pix, m.Pix)
}

func TestGetStats(t *testing.T) {
	a, b := NewRGB(2, 2), NewRGB(2, 2)
	for i := range b.Pix {
		b.Pix[i] = 1
	}
	mean, std := GetStats([]*Image{a}, []*Image{b})
	for ch := 0; ch < 3; ch++ {
		assert.Assert(t, math.Abs(float64(mean[ch])-0.5) < 1e-6)
		assert.Assert(t, math.Abs(float64(std[ch])-math.Sqrt(8.0/28)) < 1e-6)
	}
}
