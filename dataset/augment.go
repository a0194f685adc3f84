package dataset

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Augmenter transforms an image and its mask with the same geometry.
type Augmenter interface {
	Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray)
}

// AugmenterFunc adapts a function to Augmenter.
type AugmenterFunc func(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray)

// Augment implements Augmenter.
func (f AugmenterFunc) Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray) {
	return f(img, mask, rng)
}

// Identity returns its inputs unchanged.
var Identity Augmenter = AugmenterFunc(func(img image.Image, mask *image.Gray, _ *rand.Rand) (image.Image, *image.Gray) {
	return img, mask
})

type compose []Augmenter

func (c compose) Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray) {
	for _, a := range c {
		img, mask = a.Augment(img, mask, rng)
	}
	return img, mask
}

// Compose applies augs in order.
func Compose(augs ...Augmenter) Augmenter {
	return compose(augs)
}

// grayOf converts an imaging result back to a label mask. Geometric
// transforms never blend pixels so the red band holds the label.
func grayOf(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i := range g.Pix {
		g.Pix[i] = img.Pix[4*i]
	}
	return g
}

// padTo grows img and mask to at least w x h, anchored top-left, filling
// with zeros.
func padTo(img image.Image, mask *image.Gray, w, h int) (image.Image, *image.Gray) {
	b := img.Bounds()
	if b.Dx() >= w && b.Dy() >= h {
		return img, mask
	}
	if b.Dx() > w {
		w = b.Dx()
	}
	if b.Dy() > h {
		h = b.Dy()
	}

	dm := image.NewGray(image.Rect(0, 0, w, h))
	draw.Copy(dm, image.Point{}, mask, mask.Bounds(), draw.Src, nil)
	if r, ok := img.(*Raster); ok {
		return r.Pad(w, h), dm
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)

	return dst, dm
}

// The helpers below keep every band of a *Raster and go through imaging for
// anything else.

func cropImage(img image.Image, rect image.Rectangle) image.Image {
	if r, ok := img.(*Raster); ok {
		return r.Crop(rect)
	}
	return imaging.Crop(img, rect)
}

func cropCenter(img image.Image, w, h int) image.Image {
	if r, ok := img.(*Raster); ok {
		b := r.Bounds()
		x := b.Min.X + (b.Dx()-w)/2
		y := b.Min.Y + (b.Dy()-h)/2
		return r.Crop(image.Rect(x, y, x+w, y+h))
	}
	return imaging.CropCenter(img, w, h)
}

func flipImage(img image.Image, horizontal bool) image.Image {
	if r, ok := img.(*Raster); ok {
		if horizontal {
			return r.FlipH()
		}
		return r.FlipV()
	}
	if horizontal {
		return imaging.FlipH(img)
	}
	return imaging.FlipV(img)
}

// rotateImage turns img counter-clockwise by quarter turns.
func rotateImage(img image.Image, quarter int) image.Image {
	if r, ok := img.(*Raster); ok {
		switch quarter {
		case 1:
			return r.Rotate90()
		case 2:
			return r.Rotate180()
		case 3:
			return r.Rotate270()
		}
		return r
	}
	switch quarter {
	case 1:
		return imaging.Rotate90(img)
	case 2:
		return imaging.Rotate180(img)
	case 3:
		return imaging.Rotate270(img)
	}
	return img
}

// RandomCrop cuts a W x H window at a uniform random offset. Smaller inputs
// are zero padded first.
type RandomCrop struct {
	W, H int
}

// Augment implements Augmenter.
func (c RandomCrop) Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray) {
	img, mask = padTo(img, mask, c.W, c.H)
	b := img.Bounds()
	x := rng.Intn(b.Dx() - c.W + 1)
	y := rng.Intn(b.Dy() - c.H + 1)
	rect := image.Rect(x, y, x+c.W, y+c.H)

	outImg := cropImage(img, rect.Add(b.Min))
	outMask := imaging.Crop(mask, rect.Add(mask.Bounds().Min))

	return outImg, grayOf(outMask)
}

// CenterCrop cuts the central W x H window. Smaller inputs are zero padded first.
type CenterCrop struct {
	W, H int
}

// Augment implements Augmenter.
func (c CenterCrop) Augment(img image.Image, mask *image.Gray, _ *rand.Rand) (image.Image, *image.Gray) {
	img, mask = padTo(img, mask, c.W, c.H)
	outImg := cropCenter(img, c.W, c.H)
	outMask := imaging.CropCenter(mask, c.W, c.H)

	return outImg, grayOf(outMask)
}

// RandomFlip mirrors with probability P, left-right when Horizontal and
// top-bottom otherwise.
type RandomFlip struct {
	Horizontal bool
	P          float64
}

// Augment implements Augmenter.
func (f RandomFlip) Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray) {
	if rng.Float64() >= f.P {
		return img, mask
	}
	if f.Horizontal {
		return flipImage(img, true), grayOf(imaging.FlipH(mask))
	}
	return flipImage(img, false), grayOf(imaging.FlipV(mask))
}

// RandomRotate90 rotates by a random multiple of 90 degrees with probability P.
type RandomRotate90 struct {
	P float64
}

// Augment implements Augmenter.
func (r RandomRotate90) Augment(img image.Image, mask *image.Gray, rng *rand.Rand) (image.Image, *image.Gray) {
	if rng.Float64() >= r.P {
		return img, mask
	}
	switch q := rng.Intn(4); q {
	case 1:
		return rotateImage(img, q), grayOf(imaging.Rotate90(mask))
	case 2:
		return rotateImage(img, q), grayOf(imaging.Rotate180(mask))
	case 3:
		return rotateImage(img, q), grayOf(imaging.Rotate270(mask))
	default:
		return img, mask
	}
}

// TrainAugmenter crops a random size x size window, then flips and rotates.
func TrainAugmenter(size int) Augmenter {
	return Compose(
		RandomCrop{W: size, H: size},
		RandomFlip{Horizontal: true, P: 0.5},
		RandomFlip{Horizontal: false, P: 0.5},
		RandomRotate90{P: 0.5},
	)
}

// ValAugmenter crops the central size x size window.
func ValAugmenter(size int) Augmenter {
	return CenterCrop{W: size, H: size}
}

// AugmenterByName selects a pipeline at configuration time: "none" keeps
// inputs as they are, "std" (or "") uses TrainAugmenter for training and
// ValAugmenter otherwise.
func AugmenterByName(name string, size int, train bool) (Augmenter, error) {
	switch name {
	case "none":
		return Identity, nil
	case "", "std":
		if size <= 0 {
			return nil, errors.Errorf("augmenter %q needs a positive size, got %d", name, size)
		}
		if train {
			return TrainAugmenter(size), nil
		}
		return ValAugmenter(size), nil
	default:
		return nil, errors.Errorf("unknown augmenter %q", name)
	}
}
