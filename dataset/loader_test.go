package dataset_test

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/dataset"
)

// constDataset returns item i as a [1 2 2] image filled with i and a [2 2] mask of i.
type constDataset struct {
	n   int
	bad int
}

func (d constDataset) Len() int { return d.n }

func (d constDataset) Item(idx int) (*dataset.Sample, error) {
	if idx == d.bad {
		return nil, errors.New("corrupt file")
	}
	img := ts.MustOnes([]int64{1, 2, 2}, gotch.Float, gotch.CPU).MustMulScalar(ts.FloatScalar(float64(idx)), true)
	mask := ts.MustOnes([]int64{2, 2}, gotch.Int64, gotch.CPU).MustMulScalar(ts.IntScalar(int64(idx)), true)
	return &dataset.Sample{Image: img, Mask: mask}, nil
}

func TestBatchSampler(t *testing.T) {
	s, err := dataset.NewBatchSampler(10, 4, false, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}, s.Batches())

	s, err = dataset.NewBatchSampler(10, 4, true, true, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	batches := s.Batches()
	require.Len(t, batches, 2)
	var seen []int
	for _, b := range batches {
		assert.Len(t, b, 4)
		seen = append(seen, b...)
	}
	sort.Ints(seen)
	for i := 1; i < len(seen); i++ {
		assert.NotEqual(t, seen[i-1], seen[i])
	}

	_, err = dataset.NewBatchSampler(10, 0, false, false, 0)
	assert.Error(t, err)
}

func TestLoaderOrderAndCount(t *testing.T) {
	for _, workers := range []int{0, 1, 3} {
		l, err := dataset.NewLoader(constDataset{n: 7, bad: -1}, dataset.LoaderOptions{BatchSize: 3, Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, 3, l.Len())

		ctx := context.Background()
		l.Start(ctx)

		var first []float64
		count := 0
		for l.HasNext() {
			b, err := l.Next(ctx)
			require.NoError(t, err)
			count++
			assert.Equal(t, int64(b.Size()), b.Images.MustSize()[0])
			assert.Equal(t, []int64{int64(b.Size()), 2, 2}, b.Masks.MustSize())
			first = append(first, b.Images.Float64Values()[0])
			b.Drop()
		}
		assert.Equal(t, 3, count, "workers %d", workers)
		assert.Equal(t, []float64{0, 3, 6}, first, "workers %d", workers)

		_, err = l.Next(ctx)
		assert.Equal(t, io.EOF, err)
		l.Stop()
	}
}

func TestLoaderItemError(t *testing.T) {
	l, err := dataset.NewLoader(constDataset{n: 4, bad: 2}, dataset.LoaderOptions{BatchSize: 2, Workers: 2})
	require.NoError(t, err)

	ctx := context.Background()
	l.Start(ctx)
	defer l.Stop()

	b, err := l.Next(ctx)
	require.NoError(t, err)
	b.Drop()

	_, err = l.Next(ctx)
	assert.Error(t, err)
}

func TestLoaderCancel(t *testing.T) {
	l, err := dataset.NewLoader(constDataset{n: 20, bad: -1}, dataset.LoaderOptions{BatchSize: 2, Workers: 2, Prefetch: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	b, err := l.Next(ctx)
	require.NoError(t, err)
	b.Drop()

	cancel()
	// the next batch may already be built; once drained, Next reports the cancellation
	for l.HasNext() {
		b, err := l.Next(ctx)
		if err != nil {
			assert.Equal(t, context.Canceled, err)
			break
		}
		b.Drop()
	}
	l.Stop()
	assert.False(t, l.HasNext())
}
