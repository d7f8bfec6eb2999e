// The cifar10 command trains the convolutional network on the CIFAR-10 images and prints the
// classification report for the test set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/jnb666/cifarnet/history"
	"github.com/jnb666/cifarnet/img"
	"github.com/jnb666/cifarnet/nnet"
	"github.com/jnb666/cifarnet/plots"
	"github.com/jnb666/cifarnet/report"
	"github.com/jnb666/cifarnet/web"
)

// config fields which can be set directly from the command line
var flagFields = map[string]string{
	"opt":       "Optimizer",
	"eta":       "Eta",
	"lambda":    "Lambda",
	"seed":      "RandSeed",
	"epochs":    "MaxEpoch",
	"samples":   "MaxSamples",
	"batch":     "TrainBatch",
	"testbatch": "TestBatch",
	"shuffle":   "Shuffle",
	"debug":     "DebugLevel",
}

// repeated -set Key=Value options
type settings []string

func (s *settings) String() string { return strings.Join(*s, ",") }

func (s *settings) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expecting Key=Value, got %q", v)
	}
	*s = append(*s, v)
	return nil
}

func main() {
	log.SetFlags(0)
	conf := nnet.CIFAR10Config()
	var (
		set                settings
		opts               web.Options
		confFile, saveFile string
		dataDir, cacheDir  string
		dbFile, plotDir    string
	)
	flag.StringVar(&conf.Optimizer, "opt", conf.Optimizer, "optimizer: adam or sgd")
	flag.Float64Var(&conf.Eta, "eta", conf.Eta, "learning rate")
	flag.Float64Var(&conf.Lambda, "lambda", conf.Lambda, "weight decay parameter")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed, 0 for time based")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.MaxSamples, "samples", conf.MaxSamples, "max samples")
	flag.IntVar(&conf.TrainBatch, "batch", conf.TrainBatch, "train batch size")
	flag.IntVar(&conf.TestBatch, "testbatch", conf.TestBatch, "test batch size")
	flag.BoolVar(&conf.Shuffle, "shuffle", conf.Shuffle, "shuffle training data each epoch")
	flag.IntVar(&conf.DebugLevel, "debug", conf.DebugLevel, "debug logging level")
	flag.Var(&set, "set", "set config field as Key=Value, may be repeated")
	flag.StringVar(&confFile, "config", "", "load network config from json file")
	flag.StringVar(&saveFile, "save", "", "save network config to json file")
	flag.StringVar(&dataDir, "data", filepath.Join(nnet.DataDir, "cifar-10"), "directory with CIFAR-10 binary batch files")
	flag.StringVar(&cacheDir, "cache", "", "directory for compressed image cache")
	flag.StringVar(&dbFile, "db", "", "sqlite database to record run history")
	flag.StringVar(&plotDir, "plot", "", "directory to save accuracy and loss plots")
	flag.StringVar(&opts.Addr, "web", "", "serve status pages at this address, e.g. :8080")
	flag.StringVar(&opts.User, "user", "", "web user name for basic auth")
	flag.StringVar(&opts.Password, "password", "", "web password for basic auth")
	flag.Parse()

	conf, err := loadConfig(conf, confFile, set)
	nnet.CheckErr(err)
	if saveFile != "" {
		nnet.CheckErr(conf.Save(saveFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// load training and test data
	trainData, testData, err := loadData(dataDir, cacheDir)
	nnet.CheckErr(err)
	trainData.Mean, trainData.StdDev = img.GetStats(trainData.Images)
	testData.Mean, testData.StdDev = trainData.Mean, trainData.StdDev
	fmt.Printf("train: %d images  mean=%.3f  std=%.3f\n", trainData.Len(), trainData.Mean, trainData.StdDev)
	fmt.Printf("test:  %d images\n", testData.Len())

	rng := nnet.SetSeed(conf.RandSeed)
	train, err := nnet.NewDataset(trainData, conf.TrainBatch, conf.MaxSamples, rng)
	nnet.CheckErr(err)
	test, err := nnet.NewDataset(testData, conf.TestBatch, conf.MaxSamples, rng)
	nnet.CheckErr(err)

	net, err := nnet.New(conf, train.Shape(), rng)
	nnet.CheckErr(err)
	fmt.Println(net)
	opt, err := nnet.NewOptimizer(conf)
	nnet.CheckErr(err)
	fmt.Println("optimizer:", opt)

	testers := []nnet.Tester{nnet.NewTestLogger()}
	var store *history.Store
	var runID int64
	if dbFile != "" {
		store, err = history.Open(dbFile)
		nnet.CheckErr(err)
		defer store.Close()
		runID, err = store.StartRun(conf)
		nnet.CheckErr(err)
		testers = append(testers, store.Tester(runID))
		opts.History = store
	}
	status := web.NewNetwork(conf)
	if opts.Addr != "" {
		srv, err := web.NewServer(opts, status)
		nnet.CheckErr(err)
		testers = append(testers, status.Tester())
		go func() {
			log.Printf("serving status pages at http://%s", opts.Addr)
			if err := srv.ListenAndServe(); err != nil {
				log.Println("web server:", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	// train the network
	hist, err := nnet.Train(ctx, net, train, test, opt, nnet.Testers(testers...))
	nnet.CheckErr(err)
	if conf.DebugLevel >= 2 {
		net.PrintWeights()
	}

	// final evaluation on the test set
	ev, err := nnet.Evaluate(net, test)
	nnet.CheckErr(err)
	fmt.Printf("test loss = %.4f  accuracy = %.2f%%\n", ev.Loss, 100*ev.Accuracy)
	if conf.DebugLevel >= 1 {
		fmt.Printf("epoch time: %ss\n", nnet.EpochTime(hist))
	}
	pred := report.Predict(ev.Logits)
	rep, err := report.New(testData.Classes(), ev.Labels, pred)
	nnet.CheckErr(err)
	fmt.Println(rep)
	fmt.Print(rep.ConfusionString())

	if store != nil {
		nnet.CheckErr(store.Finish(runID, rep))
	}
	if plotDir != "" {
		nnet.CheckErr(plots.Save(plots.Accuracy(hist), filepath.Join(plotDir, "accuracy.png")))
		nnet.CheckErr(plots.Save(plots.Loss(hist), filepath.Join(plotDir, "loss.png")))
	}
	if opts.Addr != "" {
		status.SetResult(rep, testData.Slice(0, len(ev.Labels)), ev.Labels, pred)
		log.Println("training complete: interrupt to exit")
		<-ctx.Done()
	}
}

// Load config from file if given, then apply any flags which were set explicitly, and the
// -set overrides.
func loadConfig(conf nnet.Config, name string, set settings) (nnet.Config, error) {
	if name == "" {
		return applySettings(conf, set)
	}
	fileConf, err := nnet.LoadConfig(name)
	if err != nil {
		return conf, err
	}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagFields[f.Name]; ok && err == nil {
			fileConf, err = fileConf.SetString(key, f.Value.String())
		}
	})
	if err != nil {
		return conf, err
	}
	return applySettings(fileConf, set)
}

func applySettings(conf nnet.Config, set settings) (nnet.Config, error) {
	var err error
	for _, s := range set {
		kv := strings.SplitN(s, "=", 2)
		if conf, err = conf.SetString(kv[0], kv[1]); err != nil {
			return conf, err
		}
	}
	return conf, nil
}

// Read the raw CIFAR-10 batches, or the compressed cache if present.
func loadData(dataDir, cacheDir string) (train, test *img.Data, err error) {
	if cacheDir == "" {
		return img.LoadCIFAR10(dataDir)
	}
	trainFile := filepath.Join(cacheDir, "cifar10_train.gob.xz")
	testFile := filepath.Join(cacheDir, "cifar10_test.gob.xz")
	if _, err = os.Stat(trainFile); err == nil {
		if train, err = img.LoadDataFile(trainFile); err != nil {
			return
		}
		test, err = img.LoadDataFile(testFile)
		return
	}
	if train, test, err = img.LoadCIFAR10(dataDir); err != nil {
		return
	}
	if err = train.Save(trainFile); err != nil {
		return
	}
	err = test.Save(testFile)
	return
}
