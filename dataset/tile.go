package dataset

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// BlankFilter flags tiles that are mostly background (black, white or gray).
// A tile is blank when at most MinPixels pixels have HSL saturation above
// Saturation. Pixel sums are not used because exposure varies between scenes.
type BlankFilter struct {
	Saturation float64
	MinPixels  int
}

// DefaultBlankFilter suits 256x256 tiles.
var DefaultBlankFilter = BlankFilter{Saturation: 0.4, MinPixels: 200}

// IsBlank implements the filter.
func (f BlankFilter) IsBlank(img image.Image) bool {
	b := img.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(src, image.Point{}, img, b, draw.Src, nil)

	var count int
	for i := 0; i < len(src.Pix); i += 4 {
		c := colorful.Color{
			R: float64(src.Pix[i]) / 255,
			G: float64(src.Pix[i+1]) / 255,
			B: float64(src.Pix[i+2]) / 255,
		}
		if _, s, _ := c.Hsl(); s > f.Saturation {
			count++
			if count > f.MinPixels {
				return false
			}
		}
	}

	return true
}

// Tile is one window of a scene.
type Tile struct {
	Row, Col int
	Rect     image.Rectangle
	Image    image.Image
	Mask     *image.Gray
}

// TileScene cuts img and mask into tileW x tileH windows, row by row. Edge
// tiles are truncated. Tiles the filter judges blank are skipped; a nil
// filter keeps all.
func TileScene(img image.Image, mask *image.Gray, tileW, tileH int, filter *BlankFilter) ([]Tile, error) {
	if tileW <= 0 || tileH <= 0 {
		return nil, errors.Errorf("tile size must be positive, got %dx%d", tileW, tileH)
	}
	b := img.Bounds()
	if mask != nil && (mask.Bounds().Dx() != b.Dx() || mask.Bounds().Dy() != b.Dy()) {
		return nil, errors.Errorf("mask %v does not match image %v", mask.Bounds().Size(), b.Size())
	}

	rows := (b.Dy() + tileH - 1) / tileH
	cols := (b.Dx() + tileW - 1) / tileW

	var tiles []Tile
	for n := 0; n < rows; n++ {
		for m := 0; m < cols; m++ {
			rect := image.Rect(m*tileW, n*tileH, (m+1)*tileW, (n+1)*tileH).
				Intersect(image.Rect(0, 0, b.Dx(), b.Dy()))

			sub := cropImage(img, rect.Add(b.Min))
			if filter != nil && filter.IsBlank(sub) {
				continue
			}

			t := Tile{Row: n, Col: m, Rect: rect, Image: sub}
			if mask != nil {
				sm := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
				draw.Copy(sm, image.Point{}, mask, rect.Add(mask.Bounds().Min), draw.Src, nil)
				t.Mask = sm
			}
			tiles = append(tiles, t)
		}
	}

	return tiles, nil
}

// Reduce shrinks a scene by factor: Lanczos3 for the image, band by band for
// rasters, and nearest neighbour for the mask.
func Reduce(img image.Image, mask *image.Gray, factor int) (image.Image, *image.Gray) {
	if factor <= 1 {
		return img, mask
	}
	w := img.Bounds().Dx() / factor
	h := img.Bounds().Dy() / factor

	if r, ok := img.(*Raster); ok {
		img = r.Resize(w, h)
	} else {
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}
	if mask != nil {
		mask = ResizeMask(mask, w, h)
	}

	return img, mask
}

// WriteTiles saves tiles as dir/image/<id>_NNN.png and dir/mask/<id>_NNN.png,
// numbered from 1.
func WriteTiles(dir, id string, tiles []Tile) error {
	imgDir := filepath.Join(dir, "image")
	maskDir := filepath.Join(dir, "mask")
	for _, d := range []string{imgDir, maskDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return errors.Wrapf(err, "creating %q", d)
		}
	}

	for i, t := range tiles {
		name := fmt.Sprintf("%v_%03d.png", id, i+1)
		if err := savePNG(filepath.Join(imgDir, name), t.Image); err != nil {
			return err
		}
		if t.Mask == nil {
			continue
		}
		if err := savePNG(filepath.Join(maskDir, name), t.Mask); err != nil {
			return err
		}
	}

	return nil
}

func savePNG(path string, img image.Image) error {
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
