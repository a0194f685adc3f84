package unet_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/encoder"
	"github.com/sugarme/satseg/unet"
)

// seq returns [1 1 h w] holding 0..h*w-1 row-major.
func seq(h, w int64) *ts.Tensor {
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i)
	}
	return ts.MustOfSlice(data).MustView([]int64{1, 1, h, w}, true)
}

func TestCenterCropOffsets(t *testing.T) {
	x := seq(5, 6)
	defer x.MustDrop()

	// rows offset (5-2)/2 = 1, cols offset (6-3)/2 = 1
	crop, err := unet.CenterCrop(x, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 2, 3}, crop.MustSize())
	assert.Equal(t, []float64{7, 8, 9, 13, 14, 15}, crop.Float64Values())
	crop.MustDrop()

	// one extra row and column: offset 0 on both axes
	crop, err = unet.CenterCrop(x, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, crop.Float64Values()[:5])
	crop.MustDrop()

	same, err := unet.CenterCrop(x, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, x.Float64Values(), same.Float64Values())
	same.MustDrop()
}

func TestCenterCropTooSmall(t *testing.T) {
	x := seq(3, 3)
	defer x.MustDrop()

	_, err := unet.CenterCrop(x, 4, 3)
	assert.Equal(t, unet.ErrShape, errors.Cause(err))
}

func TestUpStageChannelMismatch(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	stage := unet.NewUpStage(vs.Root(), 8, 4, false)

	x := ts.MustRand([]int64{1, 8, 2, 2}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	good := ts.MustRand([]int64{1, 4, 5, 5}, gotch.Float, gotch.CPU)
	out, err := stage.ForwardSkip(x, good, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 4, 4}, out.MustSize())
	out.MustDrop()
	good.MustDrop()

	bad := ts.MustRand([]int64{1, 6, 4, 4}, gotch.Float, gotch.CPU)
	_, err = stage.ForwardSkip(x, bad, false)
	assert.Equal(t, unet.ErrShape, errors.Cause(err))
	bad.MustDrop()
}

func TestDecoderUnderflow(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	dec := unet.NewDecoder(vs.Root(), 8, []int64{4, 2}, false)
	assert.Equal(t, 2, dec.Depth())

	skips := encoder.NewSkipStack(2)
	require.NoError(t, skips.Push(ts.MustRand([]int64{1, 2, 8, 8}, gotch.Float, gotch.CPU)))

	x := ts.MustRand([]int64{1, 8, 2, 2}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	// first stage pops the 2-channel record where 4 channels are expected
	_, err := dec.ForwardSkips(x, skips, false)
	assert.Equal(t, unet.ErrShape, errors.Cause(err))
	skips.Reset()

	require.NoError(t, skips.Push(ts.MustRand([]int64{1, 4, 4, 4}, gotch.Float, gotch.CPU)))
	_, err = dec.ForwardSkips(x, skips, false)
	assert.Equal(t, encoder.ErrSkipUnderflow, errors.Cause(err))
}

func TestUpStageDoublesSize(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	stage := unet.NewUpStage(vs.Root(), 6, 2, false)
	assert.Equal(t, []int64{6, 2, 2, 2}, stage.Up.Ws.MustSize())
	assert.Equal(t, []int64{2}, stage.Up.Bs.MustSize())
	assert.Equal(t, []int64{2, 2}, stage.Up.Config.Stride)

	x := ts.MustRand([]int64{2, 6, 3, 5}, gotch.Float, gotch.CPU)
	defer x.MustDrop()
	up := stage.Up.Forward(x)
	assert.Equal(t, []int64{2, 2, 6, 10}, up.MustSize())
	up.MustDrop()

	skip := ts.MustRand([]int64{2, 2, 7, 11}, gotch.Float, gotch.CPU)
	defer skip.MustDrop()
	out, err := stage.ForwardSkip(x, skip, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2, 6, 10}, out.MustSize())
	out.MustDrop()
}
