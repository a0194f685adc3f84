package unet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/base"
	"github.com/sugarme/satseg/encoder"
)

// ErrShape reports feature grids that cannot be reconciled.
var ErrShape = errors.New("shape mismatch")

// UpStage is one expanding step: a 2x2 stride 2 transposed convolution
// doubling height and width, a concat with the matching skip record and a
// DoubleConv block.
type UpStage struct {
	Up   *nn.ConvTranspose2D
	Conv *nn.SequentialT
	Attn *base.Attention

	cIn  int64 // channels entering Conv (skip + upsampled)
	cOut int64
}

// newUp creates a 2x2 stride 2 transposed convolution from cIn to cOut
// channels. The weight is laid out [cIn cOut kH kW] as conv_transpose2d
// expects; nn.NewConvTranspose2D allocates [cOut cIn kH kW], which only works
// when cIn == cOut.
func newUp(p *nn.Path, cIn, cOut int64) *nn.ConvTranspose2D {
	config := &nn.ConvTranspose2DConfig{
		Stride:        []int64{2, 2},
		Padding:       []int64{0, 0},
		OutputPadding: []int64{0, 0},
		Dilation:      []int64{1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        nn.NewKaimingUniformInit(),
		BsInit:        nn.NewConstInit(0),
	}

	return &nn.ConvTranspose2D{
		Ws:     p.MustNewVar("weight", []int64{cIn, cOut, 2, 2}, config.WsInit),
		Bs:     p.MustNewVar("bias", []int64{cOut}, config.BsInit),
		Config: config,
	}
}

// NewUpStage creates an UpStage taking cIn channels from below and emitting cOut.
func NewUpStage(p *nn.Path, cIn, cOut int64, attention bool) *UpStage {
	up := newUp(p.Sub("up"), cIn, cOut)

	// skip record has cOut channels, so does the upsampled grid.
	conv := base.DoubleConv(p.Sub("conv"), 2*cOut, cOut)

	attn := base.NewAttention()
	if attention {
		attn = base.NewAttention(base.NewSCSE(p.Sub("attn"), cOut))
	}

	return &UpStage{
		Up:   up,
		Conv: conv,
		Attn: attn,
		cIn:  2 * cOut,
		cOut: cOut,
	}
}

// ForwardSkip upsamples x, reconciles skip with it and forwards the
// concatenation through the stage block. x and skip stay owned by the caller.
func (d *UpStage) ForwardSkip(x, skip *ts.Tensor, train bool) (*ts.Tensor, error) {
	up := d.Up.Forward(x)
	upSize := up.MustSize()
	skipSize := skip.MustSize()

	if skipSize[0] != upSize[0] {
		up.MustDrop()
		return nil, errors.Wrapf(ErrShape, "batch: skip %v, upsampled %v", skipSize, upSize)
	}
	if skipSize[1]+upSize[1] != d.cIn {
		up.MustDrop()
		return nil, errors.Wrapf(ErrShape, "channels: skip %d + upsampled %d, block expects %d",
			skipSize[1], upSize[1], d.cIn)
	}

	cropped, err := CenterCrop(skip, upSize[2], upSize[3])
	if err != nil {
		up.MustDrop()
		return nil, err
	}

	cat := ts.MustCat([]*ts.Tensor{cropped, up}, 1)
	cropped.MustDrop()
	up.MustDrop()

	conv := d.Conv.ForwardT(cat, train)
	cat.MustDrop()
	res := d.Attn.ForwardT(conv, train)
	conv.MustDrop()

	return res, nil
}

// CenterCrop crops the last two dimensions of x [B C H W] to h x w, taking
// (H-h)/2 rows and (W-w)/2 columns off the leading edge. It returns a new
// tensor. A target larger than x is an error.
func CenterCrop(x *ts.Tensor, h, w int64) (*ts.Tensor, error) {
	size := x.MustSize()
	if len(size) != 4 {
		return nil, errors.Wrapf(ErrShape, "center crop expects [B C H W], got %v", size)
	}
	if size[2] < h || size[3] < w {
		return nil, errors.Wrapf(ErrShape, "cannot crop %vx%v to %vx%v", size[2], size[3], h, w)
	}
	if size[2] == h && size[3] == w {
		return x.MustShallowClone(), nil
	}

	dh := (size[2] - h) / 2
	dw := (size[3] - w) / 2
	rows := x.MustNarrow(2, dh, h, false)
	crop := rows.MustNarrow(3, dw, w, true).MustContiguous(true)

	return crop, nil
}

// Decoder is the UNet expanding path.
type Decoder struct {
	stages []*UpStage
}

// NewDecoder creates the expanding path. cIn is the bottleneck width and
// widths lists the stage outputs in the order they are applied, i.e. the
// encoder widths reversed.
func NewDecoder(p *nn.Path, cIn int64, widths []int64, attention bool) *Decoder {
	d := &Decoder{stages: make([]*UpStage, len(widths))}
	prev := cIn
	for i, w := range widths {
		d.stages[i] = NewUpStage(p.Sub(fmt.Sprintf("decoder%d", i)), prev, w, attention)
		prev = w
	}

	return d
}

// Depth returns the number of stages, equal to the number of skip records consumed.
func (d *Decoder) Depth() int { return len(d.stages) }

// ForwardSkips runs all stages, popping one skip record per stage.
func (d *Decoder) ForwardSkips(x *ts.Tensor, skips *encoder.SkipStack, train bool) (*ts.Tensor, error) {
	out := x.MustShallowClone()
	for i, stage := range d.stages {
		skip, err := skips.Pop()
		if err != nil {
			out.MustDrop()
			return nil, errors.Wrapf(err, "decoder stage %d", i)
		}

		next, err := stage.ForwardSkip(out, skip, train)
		skip.MustDrop()
		out.MustDrop()
		if err != nil {
			return nil, errors.Wrapf(err, "decoder stage %d", i)
		}
		out = next
	}

	return out, nil
}
