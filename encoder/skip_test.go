package encoder_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/satseg/encoder"
)

func grid(w int64) *ts.Tensor {
	return ts.MustZeros([]int64{1, 1, w, w}, gotch.Float, gotch.CPU)
}

func TestSkipStackLIFO(t *testing.T) {
	s := encoder.NewSkipStack(3)
	for _, w := range []int64{8, 4, 2} {
		require.NoError(t, s.Push(grid(w)))
	}
	assert.Equal(t, 3, s.Len())

	for _, want := range []int64{2, 4, 8} {
		x, err := s.Pop()
		require.NoError(t, err)
		assert.Equal(t, want, x.MustSize()[2])
		x.MustDrop()
	}
	assert.NoError(t, s.Verify())
}

func TestSkipStackOverflowUnderflow(t *testing.T) {
	s := encoder.NewSkipStack(1)

	_, err := s.Pop()
	assert.Equal(t, encoder.ErrSkipUnderflow, errors.Cause(err))

	require.NoError(t, s.Push(grid(2)))
	x := grid(2)
	err = s.Push(x)
	assert.Equal(t, encoder.ErrSkipOverflow, errors.Cause(err))
	x.MustDrop()

	// one record still pending
	assert.Equal(t, encoder.ErrSkipUnbalanced, errors.Cause(s.Verify()))

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Pushes())
	assert.Equal(t, 0, s.Pops())
}

func TestSkipStackZeroCapacity(t *testing.T) {
	s := encoder.NewSkipStack(0)
	assert.NoError(t, s.Verify())
	assert.Equal(t, 0, s.Cap())
}
