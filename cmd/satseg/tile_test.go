package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRLEScenes(t *testing.T) {
	dir := t.TempDir()
	imgDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imgDir, 0755))

	for _, name := range []string{"a.png", "b.PNG", "notes.txt"} {
		f, err := os.Create(filepath.Join(imgDir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))))
		require.NoError(t, f.Close())
	}
	csv := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(csv, []byte("id,encoding\na,1 4\n"), 0644))

	scenes, err := rleScenes(imgDir, csv)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "a", scenes[0].id)
	assert.Equal(t, "b", scenes[1].id)

	// first column of a 4x4 scene
	m, err := scenes[0].mask(4, 4)
	require.NoError(t, err)
	for y := 0; y < 4; y++ {
		assert.Equal(t, uint8(1), m.GrayAt(0, y).Y)
		assert.Equal(t, uint8(0), m.GrayAt(1, y).Y)
	}

	m, err = scenes[1].mask(4, 4)
	require.NoError(t, err)
	for _, v := range m.Pix {
		assert.Equal(t, uint8(0), v)
	}
}
