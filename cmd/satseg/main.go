package main

import (
	"flag"
	"path/filepath"

	"github.com/sugarme/gotch"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
)

// flag variables
var (
	task       string
	configPath string
	checkpoint string
	outDir     string
	rleFile    string
	over       config.Overrides
)

// tiling and check parameters
var (
	tileSize   int
	reduction  int
	checkIters int
)

func init() {
	flag.StringVar(&task, "task", "train", "task to run: train, predict, check, tile or eda")
	flag.StringVar(&configPath, "config", "", "YAML run configuration; flags below override it")
	flag.StringVar(&checkpoint, "checkpoint", "", "checkpoint base path (without extension) to resume from or predict with")
	flag.StringVar(&outDir, "out", "./output", "output directory for predict, tile and eda")
	flag.StringVar(&rleFile, "rle", "", "CSV of run-length encoded masks (columns id, encoding) for the tile task")

	flag.StringVar(&over.DataRoot, "data-root", "", "dataset root with images/ and masks/")
	flag.StringVar(&over.SaveDir, "save-dir", "", "checkpoint directory")
	flag.IntVar(&over.Epochs, "epochs", 0, "number of epochs")
	flag.IntVar(&over.BatchSize, "batch-size", 0, "batch size")
	flag.Float64Var(&over.LR, "lr", 0, "learning rate")
	flag.Int64Var(&over.NumClasses, "num-classes", 0, "number of classes")
	flag.Int64Var(&over.NumChannels, "num-channels", 0, "number of input bands")
	flag.IntVar(&over.ImgSize, "img-size", 0, "crop size of training samples")
	flag.IntVar(&over.Workers, "workers", 0, "data loading goroutines")
	flag.BoolVar(&over.Cuda, "cuda", false, "use CUDA when available")

	flag.IntVar(&tileSize, "tile", 256, "tile size for the tile task")
	flag.IntVar(&reduction, "reduction", 1, "scene resolution reduction factor for the tile task")
	flag.IntVar(&checkIters, "iters", 10, "forward passes of the check task")
}

func loadConfig() *config.Config {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			klog.Exitf("%+v", err)
		}
	}
	cfg.ApplyOverrides(over)
	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid configuration: %v", err)
	}
	if cfg.DataRoot != "" {
		cfg.DataRoot = absPath(cfg.DataRoot)
	}
	return cfg
}

func device(cfg *config.Config) gotch.Device {
	if cfg.Cuda {
		return gotch.NewCuda().CudaIfAvailable()
	}
	return gotch.CPU
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg := loadConfig()

	var err error
	switch task {
	case "train":
		err = runTrain(cfg)
	case "predict":
		err = runPredict(cfg)
	case "check":
		err = runCheck(cfg)
	case "tile":
		err = runTile(cfg)
	case "eda":
		err = runEDA(cfg)
	default:
		klog.Exitf("unknown task %q. Please specify a valid 'task' flag to run.", task)
	}
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		klog.Flush()
		klog.Exit("exit: ", task, " failed")
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		klog.Fatal(err)
	}
	return fullpath
}
