package encoder

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

var (
	ErrSkipOverflow   = errors.New("skip stack overflow")
	ErrSkipUnderflow  = errors.New("skip stack underflow")
	ErrSkipUnbalanced = errors.New("skip stack unbalanced")
)

// SkipStack holds the skip records of one forward pass.
//
// It is a fixed, index-addressed LIFO sized at construction to the number of
// encoder stages. The encoder pushes one record per stage before pooling and
// the decoder pops them back in reverse order. A record handed out by Pop is
// owned by the caller.
type SkipStack struct {
	records []*ts.Tensor
	cursor  int
	pushes  int
	pops    int
}

// NewSkipStack creates a stack with room for capacity records.
func NewSkipStack(capacity int) *SkipStack {
	if capacity < 0 {
		capacity = 0
	}
	return &SkipStack{records: make([]*ts.Tensor, capacity)}
}

// Push stores x on top of the stack.
func (s *SkipStack) Push(x *ts.Tensor) error {
	if s.cursor == len(s.records) {
		return errors.Wrapf(ErrSkipOverflow, "capacity %d", len(s.records))
	}
	s.records[s.cursor] = x
	s.cursor++
	s.pushes++

	return nil
}

// Pop removes and returns the most recently pushed record.
func (s *SkipStack) Pop() (*ts.Tensor, error) {
	if s.cursor == 0 {
		return nil, errors.Wrapf(ErrSkipUnderflow, "after %d pops", s.pops)
	}
	s.cursor--
	x := s.records[s.cursor]
	s.records[s.cursor] = nil
	s.pops++

	return x, nil
}

// Len returns the number of unconsumed records.
func (s *SkipStack) Len() int { return s.cursor }

// Cap returns the fixed capacity.
func (s *SkipStack) Cap() int { return len(s.records) }

// Pushes returns the number of pushes since the last Reset.
func (s *SkipStack) Pushes() int { return s.pushes }

// Pops returns the number of pops since the last Reset.
func (s *SkipStack) Pops() int { return s.pops }

// Verify checks that a complete pass filled the stack once and drained it.
func (s *SkipStack) Verify() error {
	if s.cursor != 0 || s.pushes != len(s.records) || s.pops != len(s.records) {
		return errors.Wrapf(ErrSkipUnbalanced, "pushes=%d pops=%d pending=%d capacity=%d",
			s.pushes, s.pops, s.cursor, len(s.records))
	}

	return nil
}

// Reset drops any unconsumed record and clears the counters.
func (s *SkipStack) Reset() {
	for i := 0; i < s.cursor; i++ {
		s.records[i].MustDrop()
		s.records[i] = nil
	}
	s.cursor = 0
	s.pushes = 0
	s.pops = 0
}
