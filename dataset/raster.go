package dataset

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/nfnt/resize"
)

// SampleFormat tells how raster values map to intensities.
type SampleFormat int

const (
	UnsignedSamples SampleFormat = iota
	SignedSamples
	FloatSamples
	// UnitSamples are already scaled to [0, 1].
	UnitSamples
)

// Raster is a multi band image holding one row major float32 plane per band,
// as read from GeoTIFF scenes. Values are kept as stored in the file; Scaled
// maps them to [0, 1]. The origin is always (0, 0).
//
// Raster implements image.Image by rendering its first three bands, so it can
// be blank filtered and written as png like any other scene.
type Raster struct {
	Rect   image.Rectangle
	Planes [][]float32
	Format SampleFormat
	// Depth is the bit depth of integer samples.
	Depth int

	once   sync.Once
	lo, hi float32
}

// NewRaster allocates a zeroed w x h raster with the given band count.
func NewRaster(w, h, bands int, format SampleFormat, depth int) *Raster {
	planes := make([][]float32, bands)
	for i := range planes {
		planes[i] = make([]float32, w*h)
	}
	return &Raster{
		Rect:   image.Rect(0, 0, w, h),
		Planes: planes,
		Format: format,
		Depth:  depth,
	}
}

// Bounds implements image.Image.
func (r *Raster) Bounds() image.Rectangle { return r.Rect }

// ColorModel implements image.Image.
func (r *Raster) ColorModel() color.Model { return color.NRGBA64Model }

// At implements image.Image. One band renders gray, two or more fill R, G
// and B in order.
func (r *Raster) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(r.Rect)) || len(r.Planes) == 0 {
		return color.NRGBA64{}
	}
	i := y*r.Rect.Dx() + x
	var rgb [3]uint16
	for c := range rgb {
		switch {
		case len(r.Planes) == 1:
			rgb[c] = r.display(r.Planes[0][i])
		case c < len(r.Planes):
			rgb[c] = r.display(r.Planes[c][i])
		}
	}
	return color.NRGBA64{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xffff}
}

func (r *Raster) display(v float32) uint16 {
	u := r.unit(v)
	if u <= 0 {
		return 0
	}
	if u >= 1 {
		return 0xffff
	}
	return uint16(u*0xffff + 0.5)
}

// unit maps a stored value to [0, 1]: integers by their full bit range,
// signed and float samples by the range over all bands.
func (r *Raster) unit(v float32) float32 {
	switch r.Format {
	case UnitSamples:
		return v
	case UnsignedSamples:
		return v / float32(maxSample(r.Depth))
	default:
		r.once.Do(func() { r.lo, r.hi = bandRange(r.Planes) })
		return (v - r.lo) / (r.hi - r.lo + 1e-9)
	}
}

func maxSample(depth int) float64 {
	if depth <= 0 {
		depth = 8
	}
	return math.Exp2(float64(depth)) - 1
}

func bandRange(planes [][]float32) (lo, hi float32) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, p := range planes {
		for _, v := range p {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// Scaled returns n bands with values in [0, 1]. The first n bands are kept
// and missing ones are zero filled. Unsigned samples are divided by the
// largest value their depth holds. Signed and float samples are min-max
// stretched over the selected bands, padding included, and quantized to 256
// levels.
func (r *Raster) Scaled(n int) *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	out := NewRaster(w, h, n, UnitSamples, 0)
	for c := 0; c < n && c < len(r.Planes); c++ {
		copy(out.Planes[c], r.Planes[c])
	}

	switch r.Format {
	case UnitSamples:
	case UnsignedSamples:
		top := float32(maxSample(r.Depth))
		for _, p := range out.Planes {
			for i := range p {
				p[i] /= top
			}
		}
	default:
		lo, hi := bandRange(out.Planes)
		for _, p := range out.Planes {
			for i, v := range p {
				p[i] = float32(math.Floor(float64((v-lo)/(hi-lo+1e-9)*255))) / 255
			}
		}
	}

	return out
}

// remap builds a w x h raster whose pixel (x, y) is src pixel at(x, y).
// Pixels mapped outside r are zero.
func (r *Raster) remap(w, h int, at func(x, y int) (int, int)) *Raster {
	out := NewRaster(w, h, len(r.Planes), r.Format, r.Depth)
	sw, sh := r.Rect.Dx(), r.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := at(x, y)
			if sx < 0 || sy < 0 || sx >= sw || sy >= sh {
				continue
			}
			for c, p := range r.Planes {
				out.Planes[c][y*w+x] = p[sy*sw+sx]
			}
		}
	}
	return out
}

// Crop cuts rect, clipped to the raster.
func (r *Raster) Crop(rect image.Rectangle) *Raster {
	rect = rect.Intersect(r.Rect)
	return r.remap(rect.Dx(), rect.Dy(), func(x, y int) (int, int) {
		return rect.Min.X + x, rect.Min.Y + y
	})
}

// Pad grows the raster to w x h, anchored top-left, with zeros.
func (r *Raster) Pad(w, h int) *Raster {
	return r.remap(w, h, func(x, y int) (int, int) { return x, y })
}

// FlipH mirrors left-right.
func (r *Raster) FlipH() *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	return r.remap(w, h, func(x, y int) (int, int) { return w - 1 - x, y })
}

// FlipV mirrors top-bottom.
func (r *Raster) FlipV() *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	return r.remap(w, h, func(x, y int) (int, int) { return x, h - 1 - y })
}

// Rotate90 rotates counter-clockwise, as imaging.Rotate90 does.
func (r *Raster) Rotate90() *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	return r.remap(h, w, func(x, y int) (int, int) { return w - 1 - y, x })
}

// Rotate180 turns the raster upside down.
func (r *Raster) Rotate180() *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	return r.remap(w, h, func(x, y int) (int, int) { return w - 1 - x, h - 1 - y })
}

// Rotate270 rotates clockwise, as imaging.Rotate270 does.
func (r *Raster) Rotate270() *Raster {
	w, h := r.Rect.Dx(), r.Rect.Dy()
	return r.remap(h, w, func(x, y int) (int, int) { return y, h - 1 - x })
}

// Resize scales every band to w x h with Lanczos3. Each band goes through a
// 16 bit plane stretched over its own range.
func (r *Raster) Resize(w, h int) *Raster {
	sw, sh := r.Rect.Dx(), r.Rect.Dy()
	out := NewRaster(w, h, len(r.Planes), r.Format, r.Depth)
	for c, p := range r.Planes {
		lo, hi := bandRange([][]float32{p})
		if hi == lo {
			for i := range out.Planes[c] {
				out.Planes[c][i] = lo
			}
			continue
		}
		g := image.NewGray16(image.Rect(0, 0, sw, sh))
		for i, v := range p {
			u := uint16(float64((v-lo)/(hi-lo))*0xffff + 0.5)
			g.Pix[2*i] = uint8(u >> 8)
			g.Pix[2*i+1] = uint8(u)
		}
		scaled := resize.Resize(uint(w), uint(h), g, resize.Lanczos3)
		b := scaled.Bounds()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := color.Gray16Model.Convert(scaled.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
				out.Planes[c][y*w+x] = lo + float32(v)/0xffff*(hi-lo)
			}
		}
	}
	return out
}
