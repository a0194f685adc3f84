package dataset_test

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/tiff"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/satseg/dataset"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestStdDecoder(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	pngPath := filepath.Join(dir, "a.png")
	writePNG(t, pngPath, src)

	tifPath := filepath.Join(dir, "a.tif")
	f, err := os.Create(tifPath)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, src, nil))
	require.NoError(t, f.Close())

	dec, err := dataset.DecoderByName("std")
	require.NoError(t, err)

	for _, p := range []string{pngPath, tifPath} {
		img, err := dec.Decode(p)
		require.NoError(t, err, p)
		assert.Equal(t, 3, img.Bounds().Dx())
		assert.Equal(t, 2, img.Bounds().Dy())
		r, g, b, _ := img.At(img.Bounds().Min.X+1, img.Bounds().Min.Y+1).RGBA()
		assert.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8}, p)
	}

	_, err = dec.Decode(filepath.Join(dir, "a.bmp"))
	assert.Equal(t, dataset.ErrUnsupported, errors.Cause(err))

	_, err = dataset.DecoderByName("rasterio")
	assert.Error(t, err)
}

func TestMaskFromImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix = []uint8{0, 3}
	m, err := dataset.MaskFromImage(gray)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 3}, m.Pix)

	pal := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{color.Black, color.White, color.RGBA{R: 255, A: 255}})
	pal.Pix = []uint8{2, 1}
	m, err = dataset.MaskFromImage(pal)
	require.NoError(t, err)
	assert.Equal(t, []uint8{2, 1}, m.Pix)

	g16 := image.NewGray16(image.Rect(0, 0, 2, 1))
	g16.SetGray16(0, 0, color.Gray16{Y: 7})
	m, err = dataset.MaskFromImage(g16)
	require.NoError(t, err)
	assert.Equal(t, []uint8{7, 0}, m.Pix)

	g16.SetGray16(1, 0, color.Gray16{Y: 300})
	_, err = dataset.MaskFromImage(g16)
	assert.Error(t, err)

	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	rgba.SetNRGBA(0, 0, color.NRGBA{R: 2, G: 9, B: 9, A: 255})
	rgba.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 9, B: 9, A: 255})
	m, err = dataset.MaskFromImage(rgba)
	require.NoError(t, err)
	assert.Equal(t, []uint8{2, 1}, m.Pix)
}

func TestBands(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix = []uint8{0, 255}
	planes := dataset.Bands(gray, 4)
	require.Len(t, planes, 4)
	for c := 0; c < 3; c++ {
		assert.Equal(t, []float32{0, 1}, planes[c])
	}
	assert.Equal(t, []float32{0, 0}, planes[3])

	rgb := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	rgb.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	planes = dataset.Bands(rgb, 5)
	assert.Equal(t, [][]float32{{1}, {0}, {1}, {1}, {0}}, planes)

	planes = dataset.Bands(rgb, 1)
	assert.Equal(t, [][]float32{{1}}, planes)
}
