package base

import "github.com/sugarme/gotch/nn"

// NewSegmentationHead creates new SegmentatationHead (nn.SequentialT).
// Padding is ksize/2 so odd kernels keep the spatial size. No activation is
// applied: the head emits raw class logits.
func NewSegmentationHead(p *nn.Path, cIn, cOut, ksize int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p, cIn, cOut, ksize, ksize/2, 1))

	return seq
}
