package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/base"
)

func TestDoubleConvKeepsSpatialSize(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	block := base.DoubleConv(vs.Root().Sub("block"), 3, 8)

	x := ts.MustRand([]int64{2, 3, 9, 7}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	for _, train := range []bool{true, false} {
		out := block.ForwardT(x, train)
		assert.Equal(t, []int64{2, 8, 9, 7}, out.MustSize(), "train=%v", train)
		out.MustDrop()
	}
}

func TestDoubleConvOutputIsNonNegative(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	block := base.DoubleConv(vs.Root(), 1, 4)

	x := ts.MustRand([]int64{1, 1, 6, 6}, gotch.Float, gotch.CPU)
	out := block.ForwardT(x, false)
	x.MustDrop()

	for _, v := range out.Float64Values() {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	out.MustDrop()
}

func TestSegmentationHead(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewSegmentationHead(vs.Root().Sub("logit"), 16, 5, 1)

	x := ts.MustRand([]int64{2, 16, 11, 13}, gotch.Float, gotch.CPU)
	out := head.ForwardT(x, false)
	assert.Equal(t, []int64{2, 5, 11, 13}, out.MustSize())

	x.MustDrop()
	out.MustDrop()
}

func TestAttention(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	x := ts.MustRand([]int64{1, 4, 5, 5}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	identity := base.NewAttention()
	same := identity.ForwardT(x, false)
	assert.Equal(t, x.Float64Values(), same.Float64Values())
	same.MustDrop()

	scse := base.NewAttention(base.NewSCSE(vs.Root().Sub("attn"), 4))
	out := scse.ForwardT(x, false)
	assert.Equal(t, []int64{1, 4, 5, 5}, out.MustSize())
	out.MustDrop()
}

func TestDoubleConvRunningStats(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	block := base.DoubleConv(vs.Root().Sub("block"), 3, 4)

	stats := func() map[string][]float64 {
		vars := vs.Variables()
		out := make(map[string][]float64)
		for _, name := range []string{"block.1.bn.running_mean", "block.1.bn.running_var"} {
			v, ok := vars[name]
			require.True(t, ok, name)
			out[name] = v.Float64Values()
		}
		return out
	}

	x := ts.MustRand([]int64{2, 3, 6, 6}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	before := stats()
	out := block.ForwardT(x, false)
	out.MustDrop()
	assert.Equal(t, before, stats(), "inference must not touch running statistics")

	out = block.ForwardT(x, true)
	out.MustDrop()
	trained := stats()
	for name, vals := range trained {
		assert.NotEqual(t, before[name], vals, name)
	}

	out = block.ForwardT(x, false)
	out.MustDrop()
	assert.Equal(t, trained, stats())
}
