package dataset_test

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/satseg/dataset"
)

// scene returns a w x h gray image with a saturated red block in its top-left
// quarter and a mask labelling that block 1.
func scene(w, h int) (image.Image, *image.Gray) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 && y < h/2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 220, G: 20, B: 20, A: 255})
				mask.SetGray(x, y, color.Gray{Y: 1})
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img, mask
}

func TestBlankFilter(t *testing.T) {
	img, _ := scene(20, 20)
	f := dataset.BlankFilter{Saturation: 0.4, MinPixels: 50}

	// 100 saturated pixels
	assert.False(t, f.IsBlank(img))

	gray := image.NewGray(image.Rect(0, 0, 20, 20))
	assert.True(t, f.IsBlank(gray))

	f.MinPixels = 100
	assert.True(t, f.IsBlank(img))
}

func TestTileScene(t *testing.T) {
	img, mask := scene(20, 20)

	tiles, err := dataset.TileScene(img, mask, 8, 8, nil)
	require.NoError(t, err)
	// 3 x 3 grid, edges truncated to 4 pixels
	require.Len(t, tiles, 9)
	last := tiles[8]
	assert.Equal(t, 2, last.Row)
	assert.Equal(t, 2, last.Col)
	assert.Equal(t, image.Rect(16, 16, 20, 20), last.Rect)
	assert.Equal(t, image.Pt(4, 4), last.Image.Bounds().Size())
	assert.Equal(t, image.Pt(4, 4), last.Mask.Bounds().Size())
	assert.Equal(t, uint8(1), tiles[0].Mask.GrayAt(0, 0).Y)

	// only tiles overlapping the red block survive the filter
	tiles, err = dataset.TileScene(img, mask, 10, 10, &dataset.BlankFilter{Saturation: 0.4, MinPixels: 10})
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, 0, tiles[0].Row)
	assert.Equal(t, 0, tiles[0].Col)

	_, err = dataset.TileScene(img, image.NewGray(image.Rect(0, 0, 3, 3)), 8, 8, nil)
	assert.Error(t, err)
	_, err = dataset.TileScene(img, mask, 0, 8, nil)
	assert.Error(t, err)
}

func TestReduce(t *testing.T) {
	img, mask := scene(20, 12)
	ri, rm := dataset.Reduce(img, mask, 4)
	assert.Equal(t, image.Pt(5, 3), ri.Bounds().Size())
	assert.Equal(t, image.Pt(5, 3), rm.Bounds().Size())
	for _, v := range rm.Pix {
		assert.Contains(t, []uint8{0, 1}, v)
	}

	same, sameMask := dataset.Reduce(img, mask, 1)
	assert.Same(t, mask, sameMask)
	assert.Equal(t, img, same)
}

func TestWriteTiles(t *testing.T) {
	img, mask := scene(16, 16)
	tiles, err := dataset.TileScene(img, mask, 8, 8, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, dataset.WriteTiles(dir, "scene", tiles))

	for _, sub := range []string{"image", "mask"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	}
	_, err = os.Stat(filepath.Join(dir, "mask", "scene_004.png"))
	assert.NoError(t, err)

	pairs, err := dataset.MakePairs(filepath.Join(dir, "image"), filepath.Join(dir, "mask"), []string{"png"})
	require.NoError(t, err)
	assert.Len(t, pairs, 4)
}

func TestTileAndReduceRaster(t *testing.T) {
	r := dataset.NewRaster(4, 4, 2, dataset.UnsignedSamples, 16)
	for i := range r.Planes[0] {
		r.Planes[0][i] = float32(i)
		r.Planes[1][i] = 500
	}
	mask := image.NewGray(image.Rect(0, 0, 4, 4))

	tiles, err := dataset.TileScene(r, mask, 2, 2, nil)
	require.NoError(t, err)
	require.Len(t, tiles, 4)
	last, ok := tiles[3].Image.(*dataset.Raster)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{10, 11, 14, 15}, {500, 500, 500, 500}}, last.Planes)

	img, m := dataset.Reduce(r, mask, 2)
	small, ok := img.(*dataset.Raster)
	require.True(t, ok)
	assert.Equal(t, image.Pt(2, 2), small.Bounds().Size())
	assert.Equal(t, image.Pt(2, 2), m.Bounds().Size())
	assert.Equal(t, []float32{500, 500, 500, 500}, small.Planes[1])

	// rasters render through At, so tiles can be written as png
	dir := t.TempDir()
	require.NoError(t, dataset.WriteTiles(dir, "scene", tiles))
	_, err = os.Stat(filepath.Join(dir, "image", "scene_004.png"))
	assert.NoError(t, err)
}
