package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/sugarme/satseg/config"
	"github.com/sugarme/satseg/dataset"
)

// runEDA counts label pixels per class and image sizes over the dataset.
// It writes class_stats.csv, class-histo.png and size-histo.png under -out.
func runEDA(cfg *config.Config) error {
	pairs, err := dataset.MakePairs(
		filepath.Join(cfg.DataRoot, cfg.ImagesDir),
		filepath.Join(cfg.DataRoot, cfg.MasksDir),
		dataset.DefaultExts,
	)
	if err != nil {
		return err
	}
	dec, err := dataset.DecoderByName(cfg.Decoder)
	if err != nil {
		return err
	}

	counts := make([]float64, 256)
	widths := make(plotter.Values, 0, len(pairs))
	for _, p := range pairs {
		img, err := dec.Decode(p.Mask)
		if err != nil {
			return err
		}
		mask, err := dataset.MaskFromImage(img)
		if err != nil {
			return errors.Wrapf(err, "mask %q", p.Mask)
		}
		b := mask.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				counts[mask.GrayAt(x, y).Y]++
			}
		}
		widths = append(widths, float64(b.Dx()))
	}

	numClasses := int(cfg.Model.OutClasses)
	for c := len(counts) - 1; c >= numClasses; c-- {
		if counts[c] > 0 {
			klog.Warningf("label %d found, model has %d classes", c, numClasses)
			numClasses = c + 1
			break
		}
	}
	counts = counts[:numClasses]

	var total float64
	for _, n := range counts {
		total += n
	}
	names := make([]string, numClasses)
	fractions := make([]float64, numClasses)
	for c := range counts {
		names[c] = fmt.Sprint(c)
		if total > 0 {
			fractions[c] = counts[c] / total
		}
	}

	df := dataframe.New(
		series.New(names, series.String, "class"),
		series.New(counts, series.Float, "pixels"),
		series.New(fractions, series.Float, "fraction"),
	)
	klog.Infof("%d pairs\n%v", len(pairs), df)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", outDir)
	}
	path := filepath.Join(outDir, "class_stats.csv")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	if err := f.Close(); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Class pixel counts"
	p.Y.Label.Text = "pixels"
	bars, err := plotter.NewBarChart(plotter.Values(counts), vg.Points(20))
	if err != nil {
		return errors.Wrap(err, "class bar chart")
	}
	p.Add(bars)
	p.NominalX(names...)
	if err := p.Save(4*vg.Inch, 4*vg.Inch, filepath.Join(outDir, "class-histo.png")); err != nil {
		return errors.Wrap(err, "saving class histogram")
	}

	p = plot.New()
	p.Title.Text = "Mask width histogram"
	h, err := plotter.NewHist(widths, 5)
	if err != nil {
		return errors.Wrap(err, "width histogram")
	}
	p.Add(h)
	if err := p.Save(4*vg.Inch, 4*vg.Inch, filepath.Join(outDir, "size-histo.png")); err != nil {
		return errors.Wrap(err, "saving size histogram")
	}

	return nil
}
