package dataset

import (
	"image"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/ts"
	"golang.org/x/image/draw"
)

// ErrLabelRange is returned for masks holding labels >= the class count.
var ErrLabelRange = errors.New("mask label out of range")

// Sample is one image [C H W] float32 normalized tensor and its label mask
// [H W] int64 tensor.
type Sample struct {
	Image *ts.Tensor
	Mask  *ts.Tensor
}

// Drop releases both tensors.
func (s *Sample) Drop() {
	s.Image.MustDrop()
	s.Mask.MustDrop()
}

// Dataset is an indexed collection of samples.
type Dataset interface {
	Len() int
	Item(idx int) (*Sample, error)
}

// Options configures SegmentationDataset.
type Options struct {
	NumChannels int
	// NumClasses, when positive, rejects masks with labels >= NumClasses.
	NumClasses int
	Decoder    ImageDecoder
	Augmenter  Augmenter
	Seed       int64
}

// SegmentationDataset reads image/mask pairs from disk.
type SegmentationDataset struct {
	pairs []Pair
	opts  Options

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSegmentationDataset creates a dataset over pairs. A nil Decoder means
// StdDecoder and a nil Augmenter means Identity.
func NewSegmentationDataset(pairs []Pair, opts Options) (*SegmentationDataset, error) {
	if opts.NumChannels <= 0 {
		return nil, errors.Errorf("number of channels must be positive, got %d", opts.NumChannels)
	}
	if opts.Decoder == nil {
		opts.Decoder = StdDecoder{}
	}
	if opts.Augmenter == nil {
		opts.Augmenter = Identity
	}

	return &SegmentationDataset{
		pairs: pairs,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Len implements Dataset.
func (ds *SegmentationDataset) Len() int {
	return len(ds.pairs)
}

// Pair returns the files behind item idx.
func (ds *SegmentationDataset) Pair(idx int) Pair {
	return ds.pairs[idx]
}

// ResizeMask scales mask to w x h with nearest neighbour sampling, so label
// values are never blended.
func ResizeMask(mask *image.Gray, w, h int) *image.Gray {
	b := mask.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return mask
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, b, draw.Src, nil)
	return dst
}

// Load decodes item idx and aligns the mask with the image, without
// augmentation.
func (ds *SegmentationDataset) Load(idx int) (image.Image, *image.Gray, error) {
	if idx < 0 || idx >= len(ds.pairs) {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, len(ds.pairs))
	}
	pair := ds.pairs[idx]

	img, err := ds.opts.Decoder.Decode(pair.Image)
	if err != nil {
		return nil, nil, err
	}
	maskImg, err := ds.opts.Decoder.Decode(pair.Mask)
	if err != nil {
		return nil, nil, err
	}
	mask, err := MaskFromImage(maskImg)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mask %q", pair.Mask)
	}

	// rasters are brought to NumChannels bands in [0, 1] before any
	// augmentation, so padding and cropping see the final intensities
	if r, ok := img.(*Raster); ok {
		img = r.Scaled(ds.opts.NumChannels)
	}

	b := img.Bounds()
	mask = ResizeMask(mask, b.Dx(), b.Dy())

	return img, mask, nil
}

// Item implements Dataset: decode, align, augment, normalize.
func (ds *SegmentationDataset) Item(idx int) (*Sample, error) {
	img, mask, err := ds.Load(idx)
	if err != nil {
		return nil, err
	}

	// each item gets its own generator so workers do not share state
	ds.mu.Lock()
	seed := ds.rng.Int63()
	ds.mu.Unlock()
	img, mask = ds.opts.Augmenter.Augment(img, mask, rand.New(rand.NewSource(seed)))

	if ds.opts.NumClasses > 0 {
		for i, v := range mask.Pix {
			if int(v) >= ds.opts.NumClasses {
				return nil, errors.Wrapf(ErrLabelRange, "%q: label %d at pixel %d, %d classes",
					ds.pairs[idx].Mask, v, i, ds.opts.NumClasses)
			}
		}
	}

	return ToSample(img, mask, ds.opts.NumChannels), nil
}

// ToSample converts an image and its mask to tensors. The image takes
// numChannels bands scaled to [0, 1] and is then normalized.
func ToSample(img image.Image, mask *image.Gray, numChannels int) *Sample {
	b := img.Bounds()
	w, h := int64(b.Dx()), int64(b.Dy())

	planes := Bands(img, numChannels)
	data := make([]float32, 0, int64(numChannels)*w*h)
	for _, p := range planes {
		data = append(data, p...)
	}
	x := ts.MustOfSlice(data).MustView([]int64{int64(numChannels), h, w}, true)
	xn := Normalize(x)
	x.MustDrop()

	mb := mask.Bounds()
	labels := make([]int64, mb.Dx()*mb.Dy())
	for y := 0; y < mb.Dy(); y++ {
		for x := 0; x < mb.Dx(); x++ {
			labels[y*mb.Dx()+x] = int64(mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y)
		}
	}
	m := ts.MustOfSlice(labels).MustView([]int64{int64(mb.Dy()), int64(mb.Dx())}, true)

	return &Sample{Image: xn, Mask: m}
}
