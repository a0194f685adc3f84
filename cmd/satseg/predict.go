package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
	"github.com/sugarme/satseg/dataset"
	"github.com/sugarme/satseg/metric"
	"github.com/sugarme/satseg/trainer"
	"github.com/sugarme/satseg/unet"
	"github.com/sugarme/satseg/viz"
)

// runPredict segments the validation split with a checkpoint. For every pair
// it writes an image | truth | prediction panel and it collects the
// predictions as run-length encodings, one row per pair and class.
func runPredict(cfg *config.Config) error {
	if checkpoint == "" {
		return errors.New("predict needs a -checkpoint")
	}
	m, err := trainer.ReadManifest(checkpoint)
	if err != nil {
		return err
	}
	cfg.Model = m.Model

	dev := device(cfg)
	vs := nn.NewVarStore(dev)
	net, err := unet.NewUNet(vs.Root(), m.Model)
	if err != nil {
		return errors.Wrap(err, "building model")
	}
	if _, err := trainer.LoadCheckpoint(vs, checkpoint); err != nil {
		return err
	}
	klog.Infof("loaded %q: epoch %d, val IoU %.4f", checkpoint, m.Epoch, m.ValIoU)

	_, pairs, err := splitPairs(cfg)
	if err != nil {
		return err
	}
	ds, err := makeDataset(cfg, pairs, false)
	if err != nil {
		return err
	}

	panelDir := filepath.Join(outDir, "panels")
	overlayDir := filepath.Join(outDir, "overlays")
	for _, d := range []string{panelDir, overlayDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return errors.Wrapf(err, "creating %q", d)
		}
	}

	palette := viz.Palette(int(m.Model.OutClasses))
	opts := cfg.IoUOptions()
	var (
		ids, classes, encodings []string
		ious                    []float64
	)
	for i := 0; i < ds.Len(); i++ {
		key := ds.Pair(i).Key()
		sample, err := ds.Item(i)
		if err != nil {
			return err
		}

		x := sample.Image.MustUnsqueeze(0, false).MustTo(dev, true)
		pred, err := net.Predict(x)
		x.MustDrop()
		if err != nil {
			sample.Drop()
			return errors.Wrapf(err, "predicting %q", key)
		}
		pred = pred.MustSqueezeDim(0, true).MustTo(gotch.CPU, true)

		predLabels, truthLabels := pred.Int64Values(), sample.Mask.Int64Values()
		overlap := metric.NewOverlap(predLabels, truthLabels, m.Model.OutClasses)
		iou := overlap.Mean(opts...)
		ious = append(ious, iou)
		acc := metric.PixelAccuracy(predLabels, truthLabels)

		img, err := viz.ImageFromTensor(sample.Image)
		if err != nil {
			return err
		}
		truth, err := viz.MaskFromTensor(sample.Mask)
		if err != nil {
			return err
		}
		predMask, err := viz.MaskFromTensor(pred)
		if err != nil {
			return err
		}
		sample.Drop()
		pred.MustDrop()

		panel := viz.Panel(img, truth, predMask, palette)
		if err := viz.SavePNG(filepath.Join(panelDir, key+".png"), panel); err != nil {
			return err
		}
		overlay := viz.Overlay(img, predMask, palette, 0.5)
		if err := viz.SavePNG(filepath.Join(overlayDir, key+".png"), overlay); err != nil {
			return err
		}

		for c := 1; c < int(m.Model.OutClasses); c++ {
			ids = append(ids, key)
			classes = append(classes, fmt.Sprint(c))
			encodings = append(encodings, dataset.FormatRLE(dataset.EncodeRLE(predMask, uint8(c))))
		}
		klog.V(1).Infof("%s\tIoU %.4f\taccuracy %.4f\tper class %.3f", key, iou, acc, overlap.Ratios(opts...))
	}

	meter := metric.NewMeter()
	for _, v := range ious {
		meter.Add(0, v, 1)
	}
	klog.Infof("predicted %d images, mean IoU %.4f", len(ious), meter.IoU())

	df := dataframe.New(
		series.New(ids, series.String, "id"),
		series.New(classes, series.String, "class"),
		series.New(encodings, series.String, "encoding"),
	)
	path := filepath.Join(outDir, "predictions.csv")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return f.Close()
}
