package metric

import (
	"math"

	"github.com/sugarme/gotch/ts"
)

// UndefinedPolicy decides what a class with an empty union (absent from
// both prediction and target) contributes to the mean IoU.
type UndefinedPolicy int

const (
	// ExcludeUndefined leaves the class out of the mean.
	ExcludeUndefined UndefinedPolicy = iota
	// UndefinedAsZero counts the class as IoU 0.
	UndefinedAsZero
)

type iouOptions struct {
	ignoreIndex int64
	ignore      bool
	policy      UndefinedPolicy
}

// IoUOption configures ClassIoU and MeanIoU.
type IoUOption func(*iouOptions)

// WithIgnoreIndex removes class c from the metric.
func WithIgnoreIndex(c int64) IoUOption {
	return func(o *iouOptions) {
		o.ignoreIndex = c
		o.ignore = true
	}
}

// WithUndefinedPolicy sets the policy for classes with an empty union.
func WithUndefinedPolicy(p UndefinedPolicy) IoUOption {
	return func(o *iouOptions) {
		o.policy = p
	}
}

// Overlap holds per class intersection and union pixel counts.
type Overlap struct {
	Inter []int64
	Union []int64
}

// NewOverlap counts intersections and unions of hard predictions and labels.
// Labels outside [0, numClasses) contribute nothing.
func NewOverlap(pred, truth []int64, numClasses int64) *Overlap {
	o := &Overlap{
		Inter: make([]int64, numClasses),
		Union: make([]int64, numClasses),
	}
	valid := func(c int64) bool { return c >= 0 && c < numClasses }

	for i := range pred {
		p, t := pred[i], truth[i]
		if p == t {
			if valid(p) {
				o.Inter[p]++
				o.Union[p]++
			}
			continue
		}
		if valid(p) {
			o.Union[p]++
		}
		if valid(t) {
			o.Union[t]++
		}
	}

	return o
}

// Ratios returns inter/union per class. Undefined and ignored classes are NaN.
func (o *Overlap) Ratios(opts ...IoUOption) []float64 {
	cfg := iouOptions{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ratios := make([]float64, len(o.Inter))
	for c := range ratios {
		switch {
		case cfg.ignore && int64(c) == cfg.ignoreIndex:
			ratios[c] = math.NaN()
		case o.Union[c] == 0:
			if cfg.policy == UndefinedAsZero {
				ratios[c] = 0
			} else {
				ratios[c] = math.NaN()
			}
		default:
			ratios[c] = float64(o.Inter[c]) / float64(o.Union[c])
		}
	}

	return ratios
}

// Mean averages the defined ratios. It is 0 when no class is defined.
func (o *Overlap) Mean(opts ...IoUOption) float64 {
	var (
		sum float64
		n   int
	)
	for _, r := range o.Ratios(opts...) {
		if math.IsNaN(r) {
			continue
		}
		sum += r
		n++
	}
	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// overlapOf takes argmax over the class axis of logits [B C H W] and counts
// it against target [B H W].
func overlapOf(logits, target *ts.Tensor) *Overlap {
	numClasses := logits.MustSize()[1]
	preds := logits.MustArgmax([]int64{1}, false, false)
	pred := preds.Int64Values()
	preds.MustDrop()

	t := alignTarget(target, logits)
	truth := t.Int64Values()
	t.MustDrop()

	return NewOverlap(pred, truth, numClasses)
}

// ClassIoU returns the per class IoU of argmax(logits) against target.
func ClassIoU(logits, target *ts.Tensor, opts ...IoUOption) []float64 {
	return overlapOf(logits, target).Ratios(opts...)
}

// MeanIoU returns the mean IoU of argmax(logits) against target over the
// classes with a non empty union.
func MeanIoU(logits, target *ts.Tensor, opts ...IoUOption) float64 {
	return overlapOf(logits, target).Mean(opts...)
}

// PixelAccuracy is the fraction of pixels whose prediction equals the label.
func PixelAccuracy(pred, truth []int64) float64 {
	if len(pred) == 0 {
		return 0
	}
	var hit int
	for i := range pred {
		if pred[i] == truth[i] {
			hit++
		}
	}

	return float64(hit) / float64(len(pred))
}
