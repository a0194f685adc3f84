package dataset

import (
	"github.com/sugarme/gotch/ts"
)

var (
	imageNetMean = []float32{0.485, 0.456, 0.406} // image RGB mean
	imageNetSD   = []float32{0.229, 0.224, 0.225} // image RGB standard error
)

// Normalize applies ImageNet mean/std to the first three channels of x,
// either [C H W] or [N C H W] with values in [0, 1]. Further channels are
// left in [0, 1]. It returns a new tensor.
func Normalize(x *ts.Tensor) *ts.Tensor {
	size := x.MustSize()
	c := size[len(size)-3]

	meanVals := make([]float32, c)
	sdVals := make([]float32, c)
	for i := int64(0); i < c; i++ {
		sdVals[i] = 1
		if i < int64(len(imageNetMean)) {
			meanVals[i] = imageNetMean[i]
			sdVals[i] = imageNetSD[i]
		}
	}

	mean := ts.MustOfSlice(meanVals).MustView([]int64{c, 1, 1}, true)
	sd := ts.MustOfSlice(sdVals).MustView([]int64{c, 1, 1}, true)

	// x = (x - mean)/sd
	n := x.MustSub(mean, false).MustDiv(sd, true)
	mean.MustDrop()
	sd.MustDrop()

	return n
}
