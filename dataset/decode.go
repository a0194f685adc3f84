package dataset

import (
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ErrUnsupported is returned for files no decoder can read.
var ErrUnsupported = errors.New("unsupported image format")

// ImageDecoder reads an image file.
type ImageDecoder interface {
	Decode(path string) (image.Image, error)
}

// StdDecoder decodes png, jpeg and gif with the standard library and 8 or 16
// bit unsigned tiff with chai2010/tiff. Float and 32 bit tiff scenes are
// rejected with ErrUnsupported; GeoTIFFDecoder reads those.
type StdDecoder struct{}

// Decode implements ImageDecoder.
func (StdDecoder) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err = png.Decode(f)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".tiff", ".tif":
		if err = checkStdTIFF(f); err != nil {
			break
		}
		if _, err = f.Seek(0, io.SeekStart); err != nil {
			break
		}
		img, err = tiff.Decode(f)
	case ".gif":
		img, _, err = image.Decode(f)
	default:
		return nil, errors.Wrapf(ErrUnsupported, "%q", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}

	return img, nil
}

// DecoderByName returns the decoder registered under name: "std" (or "") or
// "geotiff".
func DecoderByName(name string) (ImageDecoder, error) {
	switch name {
	case "", "std":
		return StdDecoder{}, nil
	case "geotiff":
		return GeoTIFFDecoder{}, nil
	default:
		return nil, errors.Errorf("unknown image decoder %q", name)
	}
}

// MaskFromImage reads class labels from a decoded mask. Gray images hold the
// label directly, paletted images hold it as the palette index, 16 bit gray
// and rasters keep the raw value of their first band and any other model uses
// the first (red) band. Labels above 255 are an error.
func MaskFromImage(img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch m := img.(type) {
	case *Raster:
		if len(m.Planes) == 0 {
			return nil, errors.New("mask raster has no bands")
		}
		w := b.Dx()
		for i, v := range m.Planes[0] {
			if m.Format == UnitSamples {
				v = float32(math.Round(float64(v * 255)))
			}
			if v < 0 || v > 255 || v != float32(math.Trunc(float64(v))) {
				return nil, errors.Errorf("mask value %v at (%d, %d) is not a label", v, i%w, i/w)
			}
			mask.Pix[i] = uint8(v)
		}
	case *image.Gray:
		draw.Copy(mask, image.Point{}, m, b, draw.Src, nil)
	case *image.Paletted:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				mask.SetGray(x, y, color.Gray{Y: m.ColorIndexAt(b.Min.X+x, b.Min.Y+y)})
			}
		}
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := m.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				if v > 255 {
					return nil, errors.Errorf("mask label %d at (%d, %d) exceeds 255", v, x, y)
				}
				mask.SetGray(x, y, color.Gray{Y: uint8(v)})
			}
		}
	default:
		nrgba := image.NewNRGBA(mask.Bounds())
		draw.Copy(nrgba, image.Point{}, img, b, draw.Src, nil)
		for i := range mask.Pix {
			mask.Pix[i] = nrgba.Pix[4*i]
		}
	}

	return mask, nil
}

// isGray reports whether img carries a single band.
func isGray(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return true
	}
	return false
}

// Bands returns n planes of img with values in [0, 1]. Gray images are
// replicated to three bands, color images expose R, G, B and A and rasters
// expose all their bands, see Raster.Scaled. Missing bands are zero filled,
// extra ones dropped.
func Bands(img image.Image, n int) [][]float32 {
	if r, ok := img.(*Raster); ok {
		return r.Scaled(n).Planes
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	hw := w * h

	src := image.NewNRGBA64(image.Rect(0, 0, w, h))
	draw.Copy(src, image.Point{}, img, b, draw.Src, nil)

	avail := 4
	if isGray(img) {
		avail = 3
	}

	planes := make([][]float32, n)
	for c := 0; c < n; c++ {
		planes[c] = make([]float32, hw)
		if c >= avail {
			continue
		}
		for i := 0; i < hw; i++ {
			// NRGBA64 stores big endian uint16 per band
			off := 8*i + 2*c
			v := uint16(src.Pix[off])<<8 | uint16(src.Pix[off+1])
			planes[c][i] = float32(v) / 0xffff
		}
	}

	return planes
}
