package main

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
	"github.com/sugarme/satseg/metric"
	"github.com/sugarme/satseg/unet"
)

// runCheck builds the configured model and pushes random batches through it,
// logging output shapes, loss and the memory held after each pass.
func runCheck(cfg *config.Config) error {
	dev := device(cfg)
	vs := nn.NewVarStore(dev)
	net, err := unet.NewUNet(vs.Root(), cfg.Model)
	if err != nil {
		return errors.Wrap(err, "building model")
	}
	printVars(vs)

	batch, size := int64(cfg.BatchSize), int64(cfg.ImgSize)
	k := cfg.Model.OutClasses
	rng := rand.New(rand.NewSource(cfg.Seed))
	labels := make([]int64, batch*size*size)
	for i := range labels {
		labels[i] = rng.Int63n(k)
	}
	target := ts.MustOfSlice(labels).MustView([]int64{batch, size, size}, true).MustTo(dev, true)
	defer target.MustDrop()
	image := ts.MustRand([]int64{batch, cfg.Model.InChannels, size, size}, gotch.Float, dev)
	defer image.MustDrop()

	start, err := ReadMemInfo()
	if err != nil {
		klog.Warningf("no memory report: %v", err)
	}
	for i := 0; i < checkIters; i++ {
		var (
			loss, iou float64
			shape     []int64
			fwdErr    error
		)
		ts.NoGrad(func() {
			logits, err := net.Forward(image, false)
			if err != nil {
				fwdErr = err
				return
			}
			shape = logits.MustSize()
			l := metric.SegmentationLoss(logits, target)
			loss = l.Float64Values()[0]
			l.MustDrop()
			iou = metric.MeanIoU(logits, target)
			logits.MustDrop()
		})
		if fwdErr != nil {
			return fwdErr
		}

		if mem, err := ReadMemInfo(); err == nil && start.TotalRam > 0 {
			leak := float64(int64(mem.UsedRam())-int64(start.UsedRam())) / 1024
			klog.Infof("%02d- logits %v\tloss %.4f\tIoU %.4f\tgrowth %8.2fMB", i, shape, loss, iou, leak)
		} else {
			klog.Infof("%02d- logits %v\tloss %.4f\tIoU %.4f", i, shape, loss, iou)
		}
	}
	return nil
}

// printVars logs variables sorted by name at verbosity 2.
func printVars(vs *nn.VarStore) {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	var total int64
	for n, v := range vars {
		names = append(names, n)
		numel := int64(1)
		for _, d := range v.MustSize() {
			numel *= d
		}
		total += numel
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		klog.V(2).Infof("%v \t\t %v", n, v.MustSize())
	}
	klog.Infof("%d variables, %d parameters", len(names), total)
}
