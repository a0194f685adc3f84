package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sugarme/satseg/metric"
	"github.com/sugarme/satseg/unet"
)

// Config captures the runtime knobs for a training or prediction run.
type Config struct {
	DataRoot  string `yaml:"data_root"`
	ImagesDir string `yaml:"images_dir"` // relative to DataRoot
	MasksDir  string `yaml:"masks_dir"`  // relative to DataRoot
	SaveDir   string `yaml:"save_dir"`

	Epochs     int     `yaml:"epochs"`
	BatchSize  int     `yaml:"batch_size"`
	LR         float64 `yaml:"lr"`
	Optimizer  string  `yaml:"optimizer"`
	ImgSize    int     `yaml:"img_size"`
	Workers    int     `yaml:"workers"`
	SplitRatio float64 `yaml:"split_ratio"`
	Seed       int64   `yaml:"seed"`
	Cuda       bool    `yaml:"cuda"`

	// Decoder is "std" or "geotiff" for multi band and float tiff scenes.
	Decoder   string `yaml:"decoder"`
	Augmenter string `yaml:"augmenter"`

	// IgnoreIndex < 0 keeps every class in the IoU.
	IgnoreIndex int64  `yaml:"ignore_index"`
	IoUPolicy   string `yaml:"iou_policy"`

	Model unet.Config `yaml:"model"`
}

// Overrides captures CLI supplied values. Zero values leave the config as is.
type Overrides struct {
	DataRoot    string
	SaveDir     string
	Epochs      int
	BatchSize   int
	LR          float64
	NumClasses  int64
	NumChannels int64
	ImgSize     int
	Workers     int
	Cuda        bool
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ImagesDir:   "images",
		MasksDir:    "masks",
		SaveDir:     "./checkpoints",
		Epochs:      30,
		BatchSize:   4,
		LR:          1e-3,
		Optimizer:   "Adam",
		ImgSize:     256,
		Workers:     4,
		SplitRatio:  0.8,
		Seed:        42,
		Decoder:     "std",
		Augmenter:   "std",
		IgnoreIndex: -1,
		IoUPolicy:   "exclude",
		Model:       unet.DefaultConfig(),
	}
}

// Load reads a Config from YAML on top of Default and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are an error.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.SaveDir != "" {
		c.SaveDir = o.SaveDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LR > 0 {
		c.LR = o.LR
	}
	if o.NumClasses > 0 {
		c.Model.OutClasses = o.NumClasses
	}
	if o.NumChannels > 0 {
		c.Model.InChannels = o.NumChannels
	}
	if o.ImgSize > 0 {
		c.ImgSize = o.ImgSize
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Cuda {
		c.Cuda = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LR <= 0 {
		return errors.Errorf("lr must be > 0 (got %v)", c.LR)
	}
	if c.ImgSize <= 0 {
		return errors.Errorf("img_size must be > 0 (got %d)", c.ImgSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	if c.SplitRatio <= 0 || c.SplitRatio > 1 {
		return errors.Errorf("split_ratio must be in (0, 1] (got %v)", c.SplitRatio)
	}
	switch c.Optimizer {
	case "SGD", "Adam", "AdamW":
	default:
		return errors.Errorf("unknown optimizer %q", c.Optimizer)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.IgnoreIndex >= c.Model.OutClasses {
		return errors.Errorf("ignore_index %d outside %d classes", c.IgnoreIndex, c.Model.OutClasses)
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(err, "model")
	}
	return nil
}

// Policy maps IoUPolicy to the metric option value.
func (c *Config) Policy() (metric.UndefinedPolicy, error) {
	switch c.IoUPolicy {
	case "", "exclude":
		return metric.ExcludeUndefined, nil
	case "zero":
		return metric.UndefinedAsZero, nil
	default:
		return 0, errors.Errorf("unknown iou_policy %q", c.IoUPolicy)
	}
}

// IoUOptions returns the metric options selected by the config.
func (c *Config) IoUOptions() []metric.IoUOption {
	policy, _ := c.Policy()
	opts := []metric.IoUOption{metric.WithUndefinedPolicy(policy)}
	if c.IgnoreIndex >= 0 {
		opts = append(opts, metric.WithIgnoreIndex(c.IgnoreIndex))
	}
	return opts
}
