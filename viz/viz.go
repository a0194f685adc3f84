// Package viz renders label masks and predictions as images.
package viz

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
	"golang.org/x/image/draw"
)

// Palette returns n class colors: black for class 0 (background) and evenly
// spaced hues for the others.
func Palette(n int) []color.NRGBA {
	p := make([]color.NRGBA, n)
	if n == 0 {
		return p
	}
	p[0] = color.NRGBA{A: 255}
	for i := 1; i < n; i++ {
		h := 360 * float64(i-1) / float64(n-1)
		r, g, b := colorful.Hsv(h, 0.85, 0.95).RGB255()
		p[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// ColorizeMask paints every label with its palette color. Labels outside
// the palette are white.
func ColorizeMask(mask *image.Gray, palette []color.NRGBA) *image.NRGBA {
	b := mask.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := int(mask.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			c := white
			if v < len(palette) {
				c = palette[v]
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// Overlay blends the colorized mask over img with opacity alpha in [0, 1].
// Background (label 0) pixels are left untouched.
func Overlay(img image.Image, mask *image.Gray, palette []color.NRGBA, alpha float64) *image.NRGBA {
	b := img.Bounds()
	rec := image.Rect(0, 0, b.Dx(), b.Dy())
	dst := image.NewNRGBA(rec)
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)

	colored := ColorizeMask(mask, palette)
	// label 0 is transparent
	mb := mask.Bounds()
	for y := 0; y < mb.Dy(); y++ {
		for x := 0; x < mb.Dx(); x++ {
			if mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y == 0 {
				colored.Pix[colored.PixOffset(x, y)+3] = 0
			}
		}
	}

	a := uint8(alpha*255 + 0.5)
	draw.DrawMask(dst, rec, colored, image.Point{}, image.NewUniform(color.Alpha{A: a}), image.Point{}, draw.Over)

	return dst
}

// Panel places image, ground truth and prediction side by side.
func Panel(img image.Image, truth, pred *image.Gray, palette []color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, 3*w, h))

	draw.Copy(out, image.Point{}, img, b, draw.Src, nil)
	panels := []*image.Gray{truth, pred}
	for i, m := range panels {
		c := ColorizeMask(m, palette)
		// masks of a different size are scaled to the image panel
		dr := image.Rect((i+1)*w, 0, (i+2)*w, h)
		draw.NearestNeighbor.Scale(out, dr, c, c.Bounds(), draw.Src, nil)
	}

	return out
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %q", path)
	}
	return f.Close()
}

// MaskFromTensor converts class indices [H W] to a gray mask.
func MaskFromTensor(x *ts.Tensor) (*image.Gray, error) {
	size := x.MustSize()
	if len(size) != 2 {
		return nil, errors.Errorf("expected [H W] mask, got %v", size)
	}
	h, w := int(size[0]), int(size[1])

	xi := x.MustTotype(gotch.Int64, false)
	vals := xi.Int64Values()
	xi.MustDrop()

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("label %d at pixel %d does not fit a gray mask", v, i)
		}
		mask.Pix[i] = uint8(v)
	}
	return mask, nil
}

var (
	imageNetMean = []float64{0.485, 0.456, 0.406}
	imageNetSD   = []float64{0.229, 0.224, 0.225}
)

// ImageFromTensor undoes ImageNet normalization of a [C H W] tensor and
// renders its first three channels (one channel renders as gray).
func ImageFromTensor(x *ts.Tensor) (image.Image, error) {
	size := x.MustSize()
	if len(size) != 3 {
		return nil, errors.Errorf("expected [C H W] image, got %v", size)
	}
	c, h, w := int(size[0]), int(size[1]), int(size[2])
	vals := x.Float64Values()
	hw := h * w

	band := func(ch, i int) uint8 {
		v := vals[ch*hw+i]
		if ch < len(imageNetMean) {
			v = v*imageNetSD[ch] + imageNetMean[ch]
		}
		v = v*255 + 0.5
		switch {
		case v < 0:
			return 0
		case v > 255:
			return 255
		}
		return uint8(v)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < hw; i++ {
		var r, g, b uint8
		if c >= 3 {
			r, g, b = band(0, i), band(1, i), band(2, i)
		} else {
			r = band(0, i)
			g, b = r, r
		}
		out.Pix[4*i], out.Pix[4*i+1], out.Pix[4*i+2], out.Pix[4*i+3] = r, g, b, 255
	}
	return out, nil
}
