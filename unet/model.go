package unet

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/base"
	"github.com/sugarme/satseg/encoder"
)

// Config holds the construction time parameters of a UNet.
type Config struct {
	InChannels int64 `yaml:"in_channels"`
	OutClasses int64 `yaml:"out_classes"`
	// Features is the per stage width schedule. The encoder and decoder use
	// Features[:n-1] and the bottleneck maps Features[n-2] to Features[n-1].
	// With fewer than 2 entries there are no stages: the bottleneck keeps
	// InChannels and the 1x1 head projects from InChannels, so a single
	// entry is unused.
	Features []int64 `yaml:"features"`
	// Attention adds an SCSE block after every decoder stage.
	Attention bool `yaml:"attention"`
}

// DefaultConfig returns 3 input channels, 4 classes and features 64-128-256-512.
func DefaultConfig() Config {
	return Config{
		InChannels: 3,
		OutClasses: 4,
		Features:   []int64{64, 128, 256, 512},
	}
}

// Validate checks channel counts. A schedule shorter than 2 is accepted and
// builds a network without resolution stages.
func (c Config) Validate() error {
	if c.InChannels <= 0 {
		return errors.Errorf("in_channels must be positive, got %d", c.InChannels)
	}
	if c.OutClasses <= 0 {
		return errors.Errorf("out_classes must be positive, got %d", c.OutClasses)
	}
	for i, f := range c.Features {
		if f <= 0 {
			return errors.Errorf("features[%d] must be positive, got %d", i, f)
		}
	}

	return nil
}

// Depth returns the number of downsampling (and upsampling) stages.
func (c Config) Depth() int {
	if len(c.Features) < 2 {
		return 0
	}
	return len(c.Features) - 1
}

// UNet is a UNET model struct
// Ref: https://arxiv.org/abs/1505.04597
//
// A UNet keeps the skip records of the running pass, so one instance must not
// be forwarded concurrently.
type UNet struct {
	cfg        Config
	encoder    encoder.Encoder
	bottleneck *nn.SequentialT
	decoder    *Decoder
	segHead    *nn.SequentialT
	skips      *encoder.SkipStack
}

// NewUNet creates a UNet under path p.
//
// With features f0..fn the encoder has stages f0..f(n-1), the bottleneck maps
// f(n-1) to fn and the decoder mirrors the encoder back to f0 before the 1x1
// projection to OutClasses.
func NewUNet(p *nn.Path, cfg Config) (*UNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Features = append([]int64(nil), cfg.Features...)

	var (
		encWidths []int64
		cMid      = cfg.InChannels // bottleneck in
		cBottom   = cfg.InChannels // bottleneck out
	)
	if n := len(cfg.Features); n >= 2 {
		encWidths = cfg.Features[:n-1]
		cMid = cfg.Features[n-2]
		cBottom = cfg.Features[n-1]
	}

	decWidths := make([]int64, len(encWidths))
	for i, w := range encWidths {
		decWidths[len(encWidths)-1-i] = w
	}

	cHead := cBottom
	if len(encWidths) > 0 {
		cHead = encWidths[0]
	}

	enc := encoder.NewContracting(p.Sub("encoder"), cfg.InChannels, encWidths)

	return &UNet{
		cfg:        cfg,
		encoder:    enc,
		bottleneck: base.DoubleConv(p.Sub("bottleneck"), cMid, cBottom),
		decoder:    NewDecoder(p.Sub("decoder"), cBottom, decWidths, cfg.Attention),
		segHead:    base.NewSegmentationHead(p.Sub("logit"), cHead, cfg.OutClasses, 1),
		skips:      encoder.NewSkipStack(enc.Depth()),
	}, nil
}

// DefaultUNet creates UNet with default values.
func DefaultUNet(p *nn.Path) *UNet {
	net, err := NewUNet(p, DefaultConfig())
	if err != nil {
		panic(err)
	}

	return net
}

// Config returns the construction config.
func (n *UNet) Config() Config { return n.cfg }

// Skips exposes the skip stack of the last forward pass.
func (n *UNet) Skips() *encoder.SkipStack { return n.skips }

// Forward maps x [B InChannels H W] to logits [B OutClasses H' W'].
// H' == H and W' == W whenever H and W are divisible by 2^Depth.
func (n *UNet) Forward(x *ts.Tensor, train bool) (*ts.Tensor, error) {
	size := x.MustSize()
	if len(size) != 4 {
		return nil, errors.Wrapf(ErrShape, "input must be [B C H W], got %v", size)
	}
	if size[1] != n.cfg.InChannels {
		return nil, errors.Wrapf(ErrShape, "input has %d channels, model expects %d", size[1], n.cfg.InChannels)
	}

	n.skips.Reset()

	bottom, err := n.encoder.ForwardSkips(x, n.skips, train)
	if err != nil {
		n.skips.Reset()
		return nil, err
	}
	center := n.bottleneck.ForwardT(bottom, train)
	bottom.MustDrop()

	out, err := n.decoder.ForwardSkips(center, n.skips, train)
	center.MustDrop()
	if err != nil {
		n.skips.Reset()
		return nil, err
	}
	if err := n.skips.Verify(); err != nil {
		out.MustDrop()
		n.skips.Reset()
		return nil, err
	}

	logits := n.segHead.ForwardT(out, train)
	out.MustDrop()

	return logits, nil
}

// ForwardT implements ts.ModuleT for UNet struct. It panics on shape errors.
func (n *UNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	logits, err := n.Forward(x, train)
	if err != nil {
		panic(err)
	}

	return logits
}

// Predict returns per-pixel class indices [B H W] (int64) in inference mode.
func (n *UNet) Predict(x *ts.Tensor) (*ts.Tensor, error) {
	var (
		logits *ts.Tensor
		err    error
	)
	ts.NoGrad(func() {
		logits, err = n.Forward(x, false)
	})
	if err != nil {
		return nil, err
	}

	return logits.MustArgmax([]int64{1}, false, true), nil
}
