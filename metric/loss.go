package metric

import (
	"reflect"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
)

// DefaultEps smooths the dice ratio so classes absent from both prediction
// and target do not divide by zero.
const DefaultEps = 1e-6

// alignTarget resizes target [B H W] to the spatial size of logits
// [B C H W] with `nearest` interpolation. It always returns a new tensor.
func alignTarget(target, logits *ts.Tensor) *ts.Tensor {
	tSize := target.MustSize()
	lSize := logits.MustSize()
	if reflect.DeepEqual(tSize[1:], lSize[2:]) {
		return target.MustShallowClone()
	}

	return target.MustUnsqueeze(1, false).
		MustTotype(gotch.Float, true).
		MustUpsampleNearest2d(lSize[2:], nil, nil, true).
		MustSqueezeDim(1, true).
		MustTotype(gotch.Int64, true)
}

// oneHot converts target [B H W] class indices to [B C H W] with dtype.
func oneHot(target *ts.Tensor, numClasses int64, dtype gotch.DType) *ts.Tensor {
	return target.MustOneHot(numClasses, false).
		MustPermute([]int64{0, 3, 1, 2}, true).
		MustTotype(dtype, true)
}

// CrossEntropy computes multi-class cross entropy between logits [B C H W]
// and target class indices [B H W], averaged over every pixel of the batch.
func CrossEntropy(logits, target *ts.Tensor) *ts.Tensor {
	dtype := logits.DType()
	numClasses := logits.MustSize()[1]
	t := alignTarget(target, logits)
	onehot := oneHot(t, numClasses, dtype)
	t.MustDrop()

	logp := logits.MustLogSoftmax(1, dtype, false)
	// -mean_{b,h,w} sum_c t * log p
	nll := logp.MustMul(onehot, true).
		MustSumDimIntlist([]int64{1}, false, dtype, true).
		MustMean(dtype, true).
		MustNeg(true)
	onehot.MustDrop()

	return nll
}

// DiceLoss is a soft multi-class dice loss.
// Ref. http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
type DiceLoss struct {
	Eps float64
}

// NewDiceLoss creates DiceLoss with DefaultEps.
func NewDiceLoss() *DiceLoss {
	return &DiceLoss{Eps: DefaultEps}
}

// Coefficients returns the per sample, per class dice coefficients [B C]:
//
//	(2*sum(p*t) + eps) / (sum(p+t) + eps)
//
// where p = softmax(logits) and t = onehot(target), sums over height and width.
func (l *DiceLoss) Coefficients(logits, target *ts.Tensor) *ts.Tensor {
	dtype := logits.DType()
	numClasses := logits.MustSize()[1]
	t := alignTarget(target, logits)
	onehot := oneHot(t, numClasses, dtype)
	t.MustDrop()

	probs := logits.MustSoftmax(1, dtype, false)
	dims := []int64{2, 3}
	inter := probs.MustMul(onehot, false).MustSumDimIntlist(dims, false, dtype, true)
	union := probs.MustAdd(onehot, false).MustSumDimIntlist(dims, false, dtype, true)
	probs.MustDrop()
	onehot.MustDrop()

	num := inter.MustMulScalar(ts.FloatScalar(2.0), true).MustAddScalar(ts.FloatScalar(l.Eps), true)
	den := union.MustAddScalar(ts.FloatScalar(l.Eps), true)
	dice := num.MustDiv(den, true)
	den.MustDrop()

	return dice
}

// Forward returns 1 - mean dice coefficient over classes and samples.
func (l *DiceLoss) Forward(logits, target *ts.Tensor) *ts.Tensor {
	dice := l.Coefficients(logits, target)
	loss := dice.MustMean(logits.DType(), true).
		MustNeg(true).
		MustAddScalar(ts.FloatScalar(1.0), true)

	return loss
}

// SegmentationLoss is the training criterion: CrossEntropy + DiceLoss.
func SegmentationLoss(logits, target *ts.Tensor) *ts.Tensor {
	ce := CrossEntropy(logits, target)
	dice := NewDiceLoss().Forward(logits, target)
	loss := ce.MustAdd(dice, true)
	dice.MustDrop()

	return loss
}
