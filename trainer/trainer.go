// Package trainer runs the training and validation loops of a UNet.
package trainer

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/dataset"
	"github.com/sugarme/satseg/metric"
	"github.com/sugarme/satseg/unet"
)

// BatchSource yields the batches of one epoch. dataset.Loader implements it.
type BatchSource interface {
	Start(ctx context.Context)
	HasNext() bool
	Next(ctx context.Context) (*dataset.Batch, error)
	Stop()
}

// Options configures a Trainer.
type Options struct {
	Epochs    int
	LR        float64
	Optimizer string // SGD, Adam or AdamW
	SaveDir   string
	// LogEvery logs the running train loss every n batches at verbosity 1.
	LogEvery   int
	IoUOptions []metric.IoUOption
}

// Stepper applies one backward pass and parameter update. *nn.Optimizer
// implements it.
type Stepper interface {
	BackwardStep(loss *ts.Tensor) error
}

// Trainer owns a network, its parameters and optimizer.
type Trainer struct {
	Net    *unet.UNet
	VS     *nn.VarStore
	Opt    Stepper
	Device gotch.Device

	opts    Options
	history *History
	best    float64
}

// NewOptimizer builds an optimizer over all variables of vs.
func NewOptimizer(vs *nn.VarStore, name string, lr float64) (*nn.Optimizer, error) {
	var (
		opt *nn.Optimizer
		err error
	)
	switch name {
	case "SGD":
		opt, err = nn.DefaultSGDConfig().Build(vs, lr)
	case "Adam":
		opt, err = nn.DefaultAdamConfig().Build(vs, lr)
	case "AdamW":
		opt, err = nn.DefaultAdamWConfig().Build(vs, lr)
	default:
		return nil, errors.Errorf("unspecified/invalid optimizer option: %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "building %s optimizer", name)
	}
	return opt, nil
}

// New creates a Trainer.
func New(net *unet.UNet, vs *nn.VarStore, device gotch.Device, opts Options) (*Trainer, error) {
	if opts.Epochs <= 0 {
		return nil, errors.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	opt, err := NewOptimizer(vs, opts.Optimizer, opts.LR)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		Net:     net,
		VS:      vs,
		Opt:     opt,
		Device:  device,
		opts:    opts,
		history: &History{},
	}, nil
}

// History returns the stats recorded so far.
func (t *Trainer) History() *History { return t.history }

// BestIoU returns the best validation IoU seen so far.
func (t *Trainer) BestIoU() float64 { return t.best }

// Resume continues from a checkpoint manifest: later epochs count on from
// m.Epoch and only a better IoU than m.BestIoU is saved as best.
func (t *Trainer) Resume(m *Manifest) {
	t.best = m.BestIoU
	t.history.Add(EpochStats{Epoch: m.Epoch, TrainLoss: m.TrainLoss, ValLoss: m.ValLoss, ValIoU: m.ValIoU})
}

func (t *Trainer) toDevice(b *dataset.Batch) (input, target *ts.Tensor) {
	input = b.Images.MustTo(t.Device, false)
	target = b.Masks.MustTo(t.Device, false)
	b.Drop()
	return input, target
}

// TrainEpoch runs one pass over src in training mode and returns the
// sample weighted mean loss. A done context stops it between batches.
func (t *Trainer) TrainEpoch(ctx context.Context, src BatchSource) (float64, error) {
	src.Start(ctx)
	defer src.Stop()

	meter := metric.NewMeter()
	for count := 1; src.HasNext(); count++ {
		if err := ctx.Err(); err != nil {
			return meter.Loss(), err
		}
		b, err := src.Next(ctx)
		if err != nil {
			return meter.Loss(), errors.Wrapf(err, "train batch %d", count)
		}
		n := b.Size()
		input, target := t.toDevice(b)

		logits, err := t.Net.Forward(input, true)
		input.MustDrop()
		if err != nil {
			target.MustDrop()
			return meter.Loss(), errors.Wrapf(err, "train batch %d", count)
		}

		loss := metric.SegmentationLoss(logits, target)
		logits.MustDrop()
		target.MustDrop()

		if err := t.Opt.BackwardStep(loss); err != nil {
			loss.MustDrop()
			return meter.Loss(), errors.Wrapf(err, "train batch %d", count)
		}
		lossVal := loss.Float64Values()[0]
		loss.MustDrop()

		meter.Add(lossVal, math.NaN(), n)
		if t.opts.LogEvery > 0 && count%t.opts.LogEvery == 0 {
			klog.V(1).Infof("batch %d\tloss %.5f\trunning %.5f", count, lossVal, meter.Loss())
		}
	}
	klog.V(1).Infof("%d batches, %d samples, loss sd %.5f", meter.Batches(), meter.Samples(), meter.LossStdDev())

	return meter.Loss(), nil
}

// Validate runs src in evaluation mode without gradients and returns the
// sample weighted mean loss and the mean of per batch IoU.
func (t *Trainer) Validate(ctx context.Context, src BatchSource) (loss, iou float64, err error) {
	src.Start(ctx)
	defer src.Stop()

	meter := metric.NewMeter()
	for count := 1; src.HasNext(); count++ {
		if err = ctx.Err(); err != nil {
			return meter.Loss(), meter.IoU(), err
		}
		b, err := src.Next(ctx)
		if err != nil {
			return meter.Loss(), meter.IoU(), errors.Wrapf(err, "validation batch %d", count)
		}
		n := b.Size()
		input, target := t.toDevice(b)

		var (
			lossVal, iouVal float64
			fwdErr          error
		)
		ts.NoGrad(func() {
			logits, err := t.Net.Forward(input, false)
			if err != nil {
				fwdErr = err
				return
			}
			l := metric.SegmentationLoss(logits, target)
			lossVal = l.Float64Values()[0]
			l.MustDrop()
			iouVal = metric.MeanIoU(logits, target, t.opts.IoUOptions...)
			logits.MustDrop()
		})
		input.MustDrop()
		target.MustDrop()
		if fwdErr != nil {
			return meter.Loss(), meter.IoU(), errors.Wrapf(fwdErr, "validation batch %d", count)
		}

		meter.Add(lossVal, iouVal, n)
	}

	return meter.Loss(), meter.IoU(), nil
}

// Fit trains for the configured epochs. After each epoch it validates,
// saves unet_epochNNN and, when the validation IoU improves, unet_best.
// The history is written as history.csv and curves.png under SaveDir.
func (t *Trainer) Fit(ctx context.Context, train, val BatchSource) (*History, error) {
	first := 1
	if n := len(t.history.Epochs); n > 0 {
		first = t.history.Epochs[n-1].Epoch + 1
	}

	for epoch := first; epoch < first+t.opts.Epochs; epoch++ {
		klog.Infof("Epoch %d/%d", epoch, first+t.opts.Epochs-1)
		start := time.Now()

		trainLoss, err := t.TrainEpoch(ctx, train)
		if err != nil {
			return t.history, errors.Wrapf(err, "epoch %d", epoch)
		}
		valLoss, valIoU, err := t.Validate(ctx, val)
		if err != nil {
			return t.history, errors.Wrapf(err, "epoch %d", epoch)
		}
		stats := EpochStats{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
			ValIoU:    valIoU,
			Seconds:   time.Since(start).Seconds(),
		}
		t.history.Add(stats)
		klog.Infof("  train loss: %.4f  val loss: %.4f  val IoU: %.4f", trainLoss, valLoss, valIoU)

		improved := valIoU > t.best
		if improved {
			t.best = valIoU
		}
		if t.opts.SaveDir == "" {
			continue
		}

		m := &Manifest{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
			ValIoU:    valIoU,
			BestIoU:   t.best,
			Optimizer: t.opts.Optimizer,
			LR:        t.opts.LR,
			Model:     t.Net.Config(),
			Created:   time.Now(),
		}
		if err := SaveCheckpoint(t.VS, m, t.opts.SaveDir, EpochName(epoch)); err != nil {
			return t.history, err
		}
		if improved {
			if err := SaveCheckpoint(t.VS, m, t.opts.SaveDir, BestName); err != nil {
				return t.history, err
			}
			klog.Info("  saved best model")
		}
	}

	klog.Infof("Training complete. Best val IoU: %.4f", t.best)
	if t.opts.SaveDir == "" {
		return t.history, nil
	}
	if err := t.history.SaveCSV(filepath.Join(t.opts.SaveDir, "history.csv")); err != nil {
		return t.history, err
	}
	if err := t.history.SavePlot(filepath.Join(t.opts.SaveDir, "curves.png")); err != nil {
		return t.history, err
	}

	return t.history, nil
}
