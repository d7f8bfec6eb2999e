package img

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

const (
	imageWidth  = 32
	imageHeight = 32
	imageSize   = imageWidth * imageHeight
	imageBytes  = imageSize*3 + 1
)

// CIFAR10Classes are the label names used if batches.meta.txt is not present
var CIFAR10Classes = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// LoadCIFAR10 reads the binary version of the CIFAR-10 data set from dir. The five training
// batches are concatenated into the train set and test_batch.bin forms the test set.
// Each file may also be xz compressed with an additional .xz suffix.
func LoadCIFAR10(dir string) (train, test *Data, err error) {
	classes, err := readClasses(filepath.Join(dir, "batches.meta.txt"))
	if err != nil {
		return nil, nil, err
	}
	var labels []int32
	var images []*Image
	for i := 1; i <= 5; i++ {
		l, m, err := loadBatch(filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
		if err != nil {
			return nil, nil, err
		}
		labels = append(labels, l...)
		images = append(images, m...)
	}
	if train, err = NewData(classes, labels, images); err != nil {
		return nil, nil, err
	}
	if labels, images, err = loadBatch(filepath.Join(dir, "test_batch.bin")); err != nil {
		return nil, nil, err
	}
	if test, err = NewData(classes, labels, images); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// load batch of cifar-10 images and labels in binary format
func loadBatch(pathName string) (labels []int32, images []*Image, err error) {
	r, closer, err := openData(pathName)
	if err != nil {
		return nil, nil, err
	}
	defer closer.Close()
	labels = make([]int32, 0, 10000)
	images = make([]*Image, 0, 10000)
	buf := make([]uint8, imageBytes)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, nil, errors.Errorf("incomplete record %d in %s", len(labels), pathName)
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "error reading from %s", pathName)
		}
		labels = append(labels, int32(buf[0]))
		m := NewRGB(imageWidth, imageHeight)
		for j := 0; j < imageSize; j++ {
			m.SetRaw(j%imageWidth, j/imageWidth, buf[1+j], buf[1+imageSize+j], buf[1+imageSize*2+j])
		}
		images = append(images, m)
	}
	fmt.Printf("read %d images from %s\n", len(labels), filepath.Base(pathName))
	return labels, images, nil
}

// open a file, falling back to an xz compressed version with the same name plus .xz
func openData(pathName string) (io.Reader, io.Closer, error) {
	f, err := os.Open(pathName)
	if err == nil {
		return bufio.NewReader(f), f, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, err
	}
	f, err = os.Open(pathName + ".xz")
	if err != nil {
		return nil, nil, errors.Errorf("%s: not found with or without .xz suffix", pathName)
	}
	r, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "xz reader for %s.xz", pathName)
	}
	return r, f, nil
}

// load class descriptions from file
func readClasses(pathName string) ([]string, error) {
	f, err := os.Open(pathName)
	if os.IsNotExist(err) {
		return CIFAR10Classes, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	classes := []string{}
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, s.Err()
}
