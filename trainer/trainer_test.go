package trainer_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/dataset"
	"github.com/sugarme/satseg/trainer"
	"github.com/sugarme/satseg/unet"
)

// stripes yields [1 8 8] random images with left half class 0, right half class 1.
type stripes struct{ n int }

func (s stripes) Len() int { return s.n }

func (s stripes) Item(idx int) (*dataset.Sample, error) {
	labels := make([]int64, 64)
	for i := range labels {
		if i%8 >= 4 {
			labels[i] = 1
		}
	}
	return &dataset.Sample{
		Image: ts.MustRand([]int64{1, 8, 8}, gotch.Float, gotch.CPU),
		Mask:  ts.MustOfSlice(labels).MustView([]int64{8, 8}, true),
	}, nil
}

var smallNet = unet.Config{InChannels: 1, OutClasses: 2, Features: []int64{2, 4}}

func newTrainer(t *testing.T, dir string, epochs int) *trainer.Trainer {
	t.Helper()
	vs := nn.NewVarStore(gotch.CPU)
	net, err := unet.NewUNet(vs.Root(), smallNet)
	require.NoError(t, err)

	tr, err := trainer.New(net, vs, gotch.CPU, trainer.Options{
		Epochs:    epochs,
		LR:        1e-3,
		Optimizer: "Adam",
		SaveDir:   dir,
		LogEvery:  1,
	})
	require.NoError(t, err)
	return tr
}

func loaders(t *testing.T) (train, val *dataset.Loader) {
	t.Helper()
	train, err := dataset.NewLoader(stripes{n: 6}, dataset.LoaderOptions{BatchSize: 2, Shuffle: true, Workers: 2})
	require.NoError(t, err)
	val, err = dataset.NewLoader(stripes{n: 3}, dataset.LoaderOptions{BatchSize: 2})
	require.NoError(t, err)
	return train, val
}

func TestFit(t *testing.T) {
	dir := t.TempDir()
	tr := newTrainer(t, dir, 2)
	train, val := loaders(t)

	hist, err := tr.Fit(context.Background(), train, val)
	require.NoError(t, err)
	require.Len(t, hist.Epochs, 2)
	assert.Equal(t, 1, hist.Epochs[0].Epoch)
	assert.Equal(t, 2, hist.Epochs[1].Epoch)
	for _, e := range hist.Epochs {
		assert.True(t, e.TrainLoss > 0)
		assert.True(t, e.ValIoU > 0 && e.ValIoU <= 1)
	}
	assert.True(t, tr.BestIoU() > 0)

	for _, name := range []string{
		"unet_epoch001.gt", "unet_epoch001.meta.pb",
		"unet_epoch002.gt", "unet_epoch002.meta.pb",
		"unet_best.gt", "unet_best.meta.pb",
		"history.csv", "curves.png",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	m, err := trainer.ReadManifest(filepath.Join(dir, trainer.EpochName(2)))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Epoch)
	assert.Equal(t, "Adam", m.Optimizer)
	assert.Equal(t, smallNet, m.Model)
	assert.InDelta(t, hist.Epochs[1].ValIoU, m.ValIoU, 1e-12)
	assert.InDelta(t, tr.BestIoU(), m.BestIoU, 1e-12)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vs := nn.NewVarStore(gotch.CPU)
	_, err := unet.NewUNet(vs.Root(), smallNet)
	require.NoError(t, err)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &trainer.Manifest{Epoch: 7, ValIoU: 0.5, BestIoU: 0.6, Optimizer: "SGD", LR: 0.01, Model: smallNet, Created: created}
	require.NoError(t, trainer.SaveCheckpoint(vs, m, dir, trainer.BestName))

	vs2 := nn.NewVarStore(gotch.CPU)
	net2, err := unet.NewUNet(vs2.Root(), smallNet)
	require.NoError(t, err)
	got, err := trainer.LoadCheckpoint(vs2, filepath.Join(dir, trainer.BestName))
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, smallNet, net2.Config())

	_, err = trainer.ReadManifest(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFitResumesEpochCount(t *testing.T) {
	tr := newTrainer(t, "", 1)
	tr.Resume(&trainer.Manifest{Epoch: 4, BestIoU: 2})
	train, val := loaders(t)

	hist, err := tr.Fit(context.Background(), train, val)
	require.NoError(t, err)
	require.Len(t, hist.Epochs, 2)
	assert.Equal(t, 5, hist.Epochs[1].Epoch)
	// IoU never exceeds 1, the resumed best stays
	assert.Equal(t, 2.0, tr.BestIoU())
}

func TestFitCanceled(t *testing.T) {
	tr := newTrainer(t, "", 3)
	train, val := loaders(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Fit(ctx, train, val)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Empty(t, tr.History().Epochs)
}

func TestNewOptimizer(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	_, err := unet.NewUNet(vs.Root(), smallNet)
	require.NoError(t, err)

	for _, name := range []string{"SGD", "Adam", "AdamW"} {
		_, err := trainer.NewOptimizer(vs, name, 0.1)
		assert.NoError(t, err, name)
	}
	_, err = trainer.NewOptimizer(vs, "Lion", 0.1)
	assert.Error(t, err)

	_, err = trainer.New(nil, vs, gotch.CPU, trainer.Options{Epochs: 0, Optimizer: "SGD", LR: 0.1})
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	h := &trainer.History{}
	_, ok := h.Best()
	assert.False(t, ok)

	h.Add(trainer.EpochStats{Epoch: 1, TrainLoss: 1.2, ValLoss: 1.1, ValIoU: 0.3})
	h.Add(trainer.EpochStats{Epoch: 2, TrainLoss: 0.9, ValLoss: 0.8, ValIoU: 0.5})
	h.Add(trainer.EpochStats{Epoch: 3, TrainLoss: 0.7, ValLoss: 0.9, ValIoU: 0.5})

	best, ok := h.Best()
	require.True(t, ok)
	assert.Equal(t, 2, best.Epoch)

	var buf bytes.Buffer
	require.NoError(t, h.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Epoch,TrainLoss,ValLoss,ValIoU,Seconds", lines[0])

	path := filepath.Join(t.TempDir(), "curves.png")
	require.NoError(t, h.SavePlot(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Size() > 0)
}

type failingStep struct{ calls int }

var errStep = errors.New("step failed")

func (f *failingStep) BackwardStep(loss *ts.Tensor) error {
	f.calls++
	return errStep
}

func TestTrainEpochStepError(t *testing.T) {
	tr := newTrainer(t, "", 1)
	step := &failingStep{}
	tr.Opt = step
	train, val := loaders(t)

	loss, err := tr.TrainEpoch(context.Background(), train)
	require.Error(t, err)
	assert.Equal(t, errStep, errors.Cause(err))
	assert.Contains(t, err.Error(), "train batch 1")
	assert.Equal(t, 1, step.calls)
	// nothing was recorded for the failed batch
	assert.Equal(t, 0.0, loss)

	_, err = tr.Fit(context.Background(), train, val)
	assert.Equal(t, errStep, errors.Cause(err))
	assert.Empty(t, tr.History().Epochs)
}
