package dataset

import (
	"context"
	"io"
	"math/rand"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
)

// BatchSampler yields batches of dataset indices.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand
}

// NewBatchSampler creates a sampler over n items.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, seed int64) (*BatchSampler, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if n < 0 {
		return nil, errors.Errorf("invalid dataset size %d", n)
	}

	return &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the number of batches per epoch.
func (s *BatchSampler) Len() int {
	if s.dropLast {
		return s.n / s.batchSize
	}
	return (s.n + s.batchSize - 1) / s.batchSize
}

// Batches returns one epoch of index batches. With shuffle on, every call
// draws a new permutation.
func (s *BatchSampler) Batches() [][]int {
	idx := make([]int, s.n)
	for i := range idx {
		idx[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	batches := make([][]int, 0, s.Len())
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			if s.dropLast {
				break
			}
			end = s.n
		}
		batches = append(batches, idx[start:end])
	}

	return batches
}

// Batch is a stacked set of samples: Images [N C H W], Masks [N H W].
type Batch struct {
	Images  *ts.Tensor
	Masks   *ts.Tensor
	Indices []int
}

// Size returns the number of samples.
func (b *Batch) Size() int { return len(b.Indices) }

// Drop releases both tensors.
func (b *Batch) Drop() {
	b.Images.MustDrop()
	b.Masks.MustDrop()
}

type result struct {
	batch *Batch
	err   error
}

type job struct {
	seq     int
	indices []int
}

// LoaderOptions configures Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	// Workers is the number of goroutines building batches. Zero builds
	// batches on the calling goroutine.
	Workers int
	// Prefetch bounds the number of batches built ahead of Next.
	Prefetch int
	Seed     int64
}

// Loader batches a Dataset, building batches ahead of time on worker goroutines.
type Loader struct {
	ds      Dataset
	sampler *BatchSampler
	opts    LoaderOptions

	batches [][]int
	next    int
	results []chan result
	tokens  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLoader creates a Loader.
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	s, err := NewBatchSampler(ds.Len(), opts.BatchSize, opts.DropLast, opts.Shuffle, opts.Seed)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 0 {
		return nil, errors.Errorf("number of workers must not be negative, got %d", opts.Workers)
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2 * opts.Workers
		if opts.Prefetch == 0 {
			opts.Prefetch = 1
		}
	}

	return &Loader{ds: ds, sampler: s, opts: opts}, nil
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int { return l.sampler.Len() }

// Start begins an epoch. Any epoch in flight is stopped first.
func (l *Loader) Start(ctx context.Context) {
	l.Stop()

	l.batches = l.sampler.Batches()
	l.next = 0
	if l.opts.Workers == 0 {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.results = make([]chan result, len(l.batches))
	for i := range l.results {
		l.results[i] = make(chan result, 1)
	}
	l.tokens = make(chan struct{}, l.opts.Prefetch)
	jobs := make(chan job)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(jobs)
		for i, b := range l.batches {
			select {
			case l.tokens <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- job{seq: i, indices: b}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for w := 0; w < l.opts.Workers; w++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for j := range jobs {
				b, err := l.build(j.indices)
				l.results[j.seq] <- result{batch: b, err: err}
			}
		}()
	}
}

// HasNext reports whether the epoch has batches left.
func (l *Loader) HasNext() bool {
	return l.next < len(l.batches)
}

// Next returns the next batch in sampler order, io.EOF at the end of the
// epoch or the context error when ctx is done first.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if !l.HasNext() {
		return nil, io.EOF
	}
	seq := l.next
	l.next++

	if l.opts.Workers == 0 {
		return l.build(l.batches[seq])
	}

	select {
	case r := <-l.results[seq]:
		<-l.tokens
		return r.batch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the epoch in flight and releases batches built but not consumed.
func (l *Loader) Stop() {
	if l.cancel == nil {
		l.batches = nil
		l.next = 0
		return
	}
	l.cancel()
	l.wg.Wait()
	for _, ch := range l.results {
		select {
		case r := <-ch:
			if r.batch != nil {
				r.batch.Drop()
			}
		default:
		}
	}
	l.cancel = nil
	l.results = nil
	l.batches = nil
	l.next = 0
}

func (l *Loader) build(indices []int) (*Batch, error) {
	images := make([]*ts.Tensor, 0, len(indices))
	masks := make([]*ts.Tensor, 0, len(indices))
	release := func() {
		for i := range images {
			images[i].MustDrop()
			masks[i].MustDrop()
		}
	}

	for _, idx := range indices {
		s, err := l.ds.Item(idx)
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "item %d", idx)
		}
		images = append(images, s.Image)
		masks = append(masks, s.Mask)
		got, want := s.Image.MustSize(), images[0].MustSize()
		if !reflect.DeepEqual(got, want) {
			release()
			return nil, errors.Errorf("item %d: image size %v differs from batch size %v", idx, got, want)
		}
	}

	imgTs := ts.MustStack(images, 0)
	maskTs := ts.MustStack(masks, 0)
	release()

	return &Batch{Images: imgTs, Masks: maskTs, Indices: indices}, nil
}
