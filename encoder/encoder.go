package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/base"
)

// Encoder is encoder interface for a image segmentation model.
type Encoder interface {
	// ForwardSkips runs the contracting path. It pushes one skip record per
	// stage onto skips and returns the fully downsampled feature grid.
	ForwardSkips(x *ts.Tensor, skips *SkipStack, train bool) (*ts.Tensor, error)
	// Depth is the number of stages, i.e. the number of skip records pushed.
	Depth() int
	// OutChannels is the channel count of the grid returned by ForwardSkips.
	OutChannels() int64
}

// Contracting is the UNet downsampling path: one DoubleConv block per stage,
// each followed by 2x2 max pooling.
type Contracting struct {
	stages []*nn.SequentialT
	widths []int64
	cIn    int64
}

// NewContracting creates the downsampling path for the given stage widths.
// Stage i maps the running channel count to widths[i].
func NewContracting(p *nn.Path, cIn int64, widths []int64) *Contracting {
	e := &Contracting{
		stages: make([]*nn.SequentialT, len(widths)),
		widths: append([]int64(nil), widths...),
		cIn:    cIn,
	}
	prev := cIn
	for i, w := range widths {
		e.stages[i] = base.DoubleConv(p.Sub(fmt.Sprintf("down%d", i)), prev, w)
		prev = w
	}

	return e
}

// Depth implements Encoder.
func (e *Contracting) Depth() int { return len(e.stages) }

// OutChannels implements Encoder.
func (e *Contracting) OutChannels() int64 {
	if len(e.widths) == 0 {
		return e.cIn
	}
	return e.widths[len(e.widths)-1]
}

// ForwardSkips implements Encoder for Contracting.
func (e *Contracting) ForwardSkips(x *ts.Tensor, skips *SkipStack, train bool) (*ts.Tensor, error) {
	out := x.MustShallowClone()
	for _, stage := range e.stages {
		feat := stage.ForwardT(out, train)
		out.MustDrop()
		if err := skips.Push(feat); err != nil {
			feat.MustDrop()
			return nil, err
		}
		// [B C H W] => [B C H/2 W/2], odd sizes are floored.
		out = feat.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
	}

	return out, nil
}
