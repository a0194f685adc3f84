package main

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
	"github.com/sugarme/satseg/dataset"
)

type scene struct {
	id        string
	imagePath string
	mask      func(w, h int) (*image.Gray, error)
}

// rleScenes pairs every image under dir with its run-length encoded mask.
// Images without an entry get an empty mask.
func rleScenes(dir, csvPath string) ([]scene, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening RLE csv")
	}
	defer f.Close()
	rles, err := dataset.ReadRLE(f, "id", "encoding")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", dir)
	}
	var scenes []scene
	for _, e := range entries {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Name()), "."))
		if e.IsDir() || !isImageExt(ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		rle := rles[id]
		scenes = append(scenes, scene{
			id:        id,
			imagePath: filepath.Join(dir, e.Name()),
			mask: func(w, h int) (*image.Gray, error) {
				return dataset.DecodeRLE(rle, w, h, 1)
			},
		})
	}
	return scenes, nil
}

func isImageExt(ext string) bool {
	for _, e := range dataset.DefaultExts {
		if e == ext {
			return true
		}
	}
	return false
}

func maskScenes(cfg *config.Config, dec dataset.ImageDecoder) ([]scene, error) {
	pairs, err := dataset.MakePairs(
		filepath.Join(cfg.DataRoot, cfg.ImagesDir),
		filepath.Join(cfg.DataRoot, cfg.MasksDir),
		dataset.DefaultExts,
	)
	if err != nil {
		return nil, err
	}
	scenes := make([]scene, len(pairs))
	for i, p := range pairs {
		maskPath := p.Mask
		scenes[i] = scene{
			id:        p.Key(),
			imagePath: p.Image,
			mask: func(w, h int) (*image.Gray, error) {
				img, err := dec.Decode(maskPath)
				if err != nil {
					return nil, err
				}
				m, err := dataset.MaskFromImage(img)
				if err != nil {
					return nil, err
				}
				return dataset.ResizeMask(m, w, h), nil
			},
		}
	}
	return scenes, nil
}

// runTile cuts large scenes into training tiles under <out>/tiles, reducing
// resolution first and skipping blank tiles. Masks come from the -rle CSV
// when given, otherwise from the masks directory.
func runTile(cfg *config.Config) error {
	dec, err := dataset.DecoderByName(cfg.Decoder)
	if err != nil {
		return err
	}

	var scenes []scene
	if rleFile != "" {
		scenes, err = rleScenes(filepath.Join(cfg.DataRoot, cfg.ImagesDir), rleFile)
	} else {
		scenes, err = maskScenes(cfg, dec)
	}
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return errors.Wrapf(dataset.ErrNoPairs, "no scenes under %q", cfg.DataRoot)
	}

	dst := filepath.Join(outDir, "tiles")
	filter := dataset.DefaultBlankFilter
	var total int
	for _, s := range scenes {
		img, err := dec.Decode(s.imagePath)
		if err != nil {
			return err
		}
		b := img.Bounds()
		mask, err := s.mask(b.Dx(), b.Dy())
		if err != nil {
			return errors.Wrapf(err, "mask of %q", s.id)
		}

		img, mask = dataset.Reduce(img, mask, reduction)
		tiles, err := dataset.TileScene(img, mask, tileSize, tileSize, &filter)
		if err != nil {
			return errors.Wrapf(err, "tiling %q", s.id)
		}
		if err := dataset.WriteTiles(dst, s.id, tiles); err != nil {
			return err
		}
		total += len(tiles)
		klog.Infof("%s: %dx%d -> %d tiles", s.id, b.Dx(), b.Dy(), len(tiles))
	}
	klog.Infof("wrote %d tiles from %d scenes to %q", total, len(scenes), dst)

	return nil
}
