package dataset

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultExts lists the file extensions searched by MakePairs.
var DefaultExts = []string{"png", "jpg", "jpeg", "tif", "tiff"}

// ErrNoPairs is returned when no image has a mask with the same basename.
var ErrNoPairs = errors.New("no image/mask pairs found")

// Pair is an image file and its label mask.
type Pair struct {
	Image string
	Mask  string
}

// Key returns the basename without extension shared by the image and mask.
func (p Pair) Key() string {
	return stem(p.Image)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// listFiles walks dir recursively and returns files with one of exts, grouped
// in exts order and sorted within each group.
func listFiles(dir string, exts []string) ([]string, error) {
	byExt := make(map[string][]string, len(exts))
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		byExt[ext] = append(byExt[ext], path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}

	var files []string
	for _, ext := range exts {
		group := byExt[strings.ToLower(ext)]
		sort.Strings(group)
		files = append(files, group...)
		delete(byExt, strings.ToLower(ext))
	}

	return files, nil
}

// MakePairs matches images under imagesDir with masks under masksDir by
// basename without extension. Both trees are searched recursively. When two
// files share a basename the one found later in exts order wins. Pairs are
// sorted by basename.
func MakePairs(imagesDir, masksDir string, exts []string) ([]Pair, error) {
	if len(exts) == 0 {
		exts = DefaultExts
	}

	imgs, err := listFiles(imagesDir, exts)
	if err != nil {
		return nil, err
	}
	masks, err := listFiles(masksDir, exts)
	if err != nil {
		return nil, err
	}

	imgMap := make(map[string]string, len(imgs))
	for _, p := range imgs {
		imgMap[stem(p)] = p
	}
	maskMap := make(map[string]string, len(masks))
	for _, p := range masks {
		maskMap[stem(p)] = p
	}

	var keys []string
	for k := range imgMap {
		if _, ok := maskMap[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errors.Wrapf(ErrNoPairs, "images %q, masks %q", imagesDir, masksDir)
	}
	sort.Strings(keys)

	pairs := make([]Pair, len(keys))
	for i, k := range keys {
		pairs[i] = Pair{Image: imgMap[k], Mask: maskMap[k]}
	}

	return pairs, nil
}

// Split keeps the order of pairs and cuts it at int(ratio*len(pairs)).
func Split(pairs []Pair, ratio float64) (train, val []Pair, err error) {
	if ratio <= 0 || ratio > 1 {
		return nil, nil, errors.Errorf("split ratio must be in (0, 1], got %v", ratio)
	}
	n := int(ratio * float64(len(pairs)))

	return pairs[:n], pairs[n:], nil
}
