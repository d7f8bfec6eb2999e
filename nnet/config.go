package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DataDir is the default directory for data and config files, set from $CIFARNET_DATA if defined.
var DataDir = dataDir()

func dataDir() string {
	if dir := os.Getenv("CIFARNET_DATA"); dir != "" {
		return dir
	}
	return "data"
}

// Training configuration settings
type Config struct {
	DataSet    string
	Optimizer  string
	Eta        float64
	Lambda     float64
	Shuffle    bool
	TrainBatch int
	TestBatch  int
	MaxEpoch   int
	MaxSamples int
	LogEvery   int
	RandSeed   int64
	DebugLevel int
	InputShape []int
	Layers     []LayerConfig
}

// CIFAR10Shape is the channels, height and width of a CIFAR-10 image.
var CIFAR10Shape = []int{3, 32, 32}

// CIFAR10Config returns the settings and layer stack used to train on the CIFAR-10 images:
// three 3x3 convolutions of width 32, 64 and 64, each with relu, the first two followed by
// 2x2 max pooling, then a 64 unit hidden layer and 10 output logits. The network only accepts
// 3x32x32 inputs.
func CIFAR10Config() Config {
	return Config{
		DataSet:    "cifar10",
		Optimizer:  "adam",
		Eta:        0.001,
		Shuffle:    true,
		TrainBatch: 32,
		TestBatch:  100,
		MaxEpoch:   10,
		LogEvery:   1,
		InputShape: append([]int{}, CIFAR10Shape...),
	}.AddLayers(
		Conv{Nfeats: 32, Size: 3},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Conv{Nfeats: 64, Size: 3},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Conv{Nfeats: 64, Size: 3},
		Activation{Atype: "relu"},
		Flatten{},
		Linear{Nout: 64},
		Activation{Atype: "relu"},
		Linear{Nout: 10},
	)
}

// Load network config from json file. Relative paths are under DataDir.
func LoadConfig(name string) (c Config, err error) {
	f, err := os.Open(configPath(name))
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Println("loading network config from", name)
	dec := json.NewDecoder(f)
	if err = dec.Decode(&c); err != nil {
		err = errors.Wrapf(err, "decoding %s", name)
	}
	return
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file, writing to a temporary file first and renaming it.
func (c Config) Save(name string) error {
	filePath := configPath(name)
	tmpPath := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath))
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	fmt.Println("saving network config to", name)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, filePath)
}

func configPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(DataDir, name)
}

// Fields lists the settings, excluding Layers
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Layers =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

// SetString updates the named field from its string representation.
func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() || key == "Layers" {
		return c, errors.Errorf("invalid config field: %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, errors.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, errors.Wrapf(err, "setting %s", key)
}
