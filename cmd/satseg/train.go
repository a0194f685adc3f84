package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
	"github.com/sugarme/satseg/dataset"
	"github.com/sugarme/satseg/trainer"
	"github.com/sugarme/satseg/unet"
)

func makeDataset(cfg *config.Config, pairs []dataset.Pair, train bool) (*dataset.SegmentationDataset, error) {
	dec, err := dataset.DecoderByName(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	aug, err := dataset.AugmenterByName(cfg.Augmenter, cfg.ImgSize, train)
	if err != nil {
		return nil, err
	}
	return dataset.NewSegmentationDataset(pairs, dataset.Options{
		NumChannels: int(cfg.Model.InChannels),
		NumClasses:  int(cfg.Model.OutClasses),
		Decoder:     dec,
		Augmenter:   aug,
		Seed:        cfg.Seed,
	})
}

func splitPairs(cfg *config.Config) (train, val []dataset.Pair, err error) {
	pairs, err := dataset.MakePairs(
		filepath.Join(cfg.DataRoot, cfg.ImagesDir),
		filepath.Join(cfg.DataRoot, cfg.MasksDir),
		dataset.DefaultExts,
	)
	if err != nil {
		return nil, nil, err
	}
	train, val, err = dataset.Split(pairs, cfg.SplitRatio)
	if err != nil {
		return nil, nil, err
	}
	// a full training split validates on the training pairs
	if len(val) == 0 {
		val = train
	}
	return train, val, nil
}

func runTrain(cfg *config.Config) error {
	trainPairs, valPairs, err := splitPairs(cfg)
	if err != nil {
		return err
	}
	klog.Infof("train pairs: %d, validation pairs: %d", len(trainPairs), len(valPairs))

	trainDS, err := makeDataset(cfg, trainPairs, true)
	if err != nil {
		return err
	}
	valDS, err := makeDataset(cfg, valPairs, false)
	if err != nil {
		return err
	}

	trainLoader, err := dataset.NewLoader(trainDS, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return err
	}
	valLoader, err := dataset.NewLoader(valDS, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return err
	}

	dev := device(cfg)
	vs := nn.NewVarStore(dev)

	var resumed *trainer.Manifest
	modelCfg := cfg.Model
	if checkpoint != "" {
		// the checkpoint decides the architecture
		resumed, err = trainer.ReadManifest(checkpoint)
		if err != nil {
			return err
		}
		modelCfg = resumed.Model
	}

	net, err := unet.NewUNet(vs.Root(), modelCfg)
	if err != nil {
		return errors.Wrap(err, "building model")
	}
	if resumed != nil {
		if _, err := trainer.LoadCheckpoint(vs, checkpoint); err != nil {
			return err
		}
		klog.Infof("resuming from %q at epoch %d (best IoU %.4f)", checkpoint, resumed.Epoch, resumed.BestIoU)
	}

	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", cfg.SaveDir)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(cfg.SaveDir, "config.yaml"), data, 0644); err != nil {
		return errors.Wrap(err, "writing run config")
	}

	tr, err := trainer.New(net, vs, dev, trainer.Options{
		Epochs:     cfg.Epochs,
		LR:         cfg.LR,
		Optimizer:  cfg.Optimizer,
		SaveDir:    cfg.SaveDir,
		LogEvery:   10,
		IoUOptions: cfg.IoUOptions(),
	})
	if err != nil {
		return err
	}
	if resumed != nil {
		tr.Resume(resumed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hist, err := tr.Fit(ctx, trainLoader, valLoader)
	if err != nil {
		return err
	}
	if best, ok := hist.Best(); ok {
		klog.Infof("best epoch %d: val loss %.4f, val IoU %.4f", best.Epoch, best.ValLoss, best.ValIoU)
	}
	return nil
}
