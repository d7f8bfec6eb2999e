package img

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/jnb666/cifarnet/stats"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Image data set which implements the nnet.Data interface
type Data struct {
	DataHead
	Images []*Image
}

type DataHead struct {
	Class  []string
	Dims   []int
	Labels []int32
	Mean   []float32
	StdDev []float32
}

// Create a new image set. All images must have the same shape and labels must index into classes.
func NewData(classes []string, labels []int32, images []*Image) (*Data, error) {
	if len(images) == 0 {
		return nil, errors.New("img: empty image set")
	}
	if len(labels) != len(images) {
		return nil, errors.Errorf("img: %d labels for %d images", len(labels), len(images))
	}
	src := images[0]
	for i, m := range images {
		if m.Height != src.Height || m.Width != src.Width || m.Channels != src.Channels {
			return nil, errors.Errorf("img: image %d is %dx%dx%d, expecting %dx%dx%d", i,
				m.Height, m.Width, m.Channels, src.Height, src.Width, src.Channels)
		}
	}
	for i, label := range labels {
		if label < 0 || int(label) >= len(classes) {
			return nil, errors.Errorf("img: label %d for image %d out of range [0,%d)", label, i, len(classes))
		}
	}
	dims := []int{src.Channels, src.Height, src.Width}
	return &Data{
		DataHead: DataHead{Class: classes, Dims: dims, Labels: labels},
		Images:   images,
	}, nil
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes functions number of differerent label values
func (d *Data) Classes() []string { return d.Class }

// Shape returns channels, height, width
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// Input copies the normalised pixel data for the given images into buf
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.nfeat()
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Images[ix].Pix)
	}
}

// Image returns given image number
func (d *Data) Image(ix int) *Image {
	return d.Images[ix]
}

// Slice returns images from start to end
func (d *Data) Slice(start, end int) *Data {
	data := *d
	data.Labels = append([]int32{}, d.Labels[start:end]...)
	data.Images = append([]*Image{}, d.Images[start:end]...)
	return &data
}

func (d *Data) nfeat() int {
	n := 1
	for _, d := range d.Dims {
		n *= d
	}
	return n
}

// Encode data in gob format
func (d *Data) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error encoding header")
	}
	for i, img := range d.Images {
		if err := enc.Encode(img); err != nil {
			return errors.Wrapf(err, "error encoding image %d", i)
		}
	}
	return nil
}

// Decode data from gob format
func (d *Data) Decode(r io.Reader) error {
	d.DataHead = DataHead{}
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error decoding header")
	}
	d.Images = make([]*Image, d.Len())
	for i := range d.Images {
		if err := dec.Decode(&d.Images[i]); err != nil {
			return errors.Wrapf(err, "error decoding image %d", i)
		}
	}
	return nil
}

// Save writes the data set to an xz compressed gob file.
func (d *Data) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := xz.NewWriter(f)
	if err != nil {
		return errors.Wrap(err, "xz writer")
	}
	if err = d.Encode(w); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "xz close")
	}
	fmt.Printf("saved %d images to %s\n", d.Len(), filePath)
	return f.Close()
}

// LoadDataFile reads a data set written by Save.
func LoadDataFile(filePath string) (*Data, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := xz.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "xz reader for %s", filePath)
	}
	d := new(Data)
	if err = d.Decode(r); err != nil {
		return nil, errors.Wrapf(err, "loading %s", filePath)
	}
	fmt.Printf("loaded %d images from %s\n", d.Len(), filePath)
	return d, nil
}

// Calculate mean and stddev per channel from set of images
func GetStats(imgList ...[]*Image) (mean, std []float32) {
	channels := imgList[0][0].Channels
	stat := make([]*stats.Average, channels)
	for i := range stat {
		stat[i] = new(stats.Average)
	}
	for _, images := range imgList {
		for _, img := range images {
			for ch, s := range stat {
				for _, val := range img.Pixels(ch) {
					s.Add(float64(val))
				}
			}
		}
	}
	mean = make([]float32, channels)
	std = make([]float32, channels)
	for i, s := range stat {
		mean[i] = float32(s.Mean)
		std[i] = float32(s.StdDev)
	}
	return mean, std
}
