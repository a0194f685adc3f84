package trainer

import (
	"image/color"
	"io"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// EpochStats holds the metrics of one epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	ValIoU    float64
	Seconds   float64
}

// History is the sequence of epoch stats of a run.
type History struct {
	Epochs []EpochStats
}

// Add appends one epoch.
func (h *History) Add(s EpochStats) {
	h.Epochs = append(h.Epochs, s)
}

// Best returns the epoch with the highest validation IoU, the first one on
// ties. ok is false for an empty history.
func (h *History) Best() (best EpochStats, ok bool) {
	for i, s := range h.Epochs {
		if i == 0 || s.ValIoU > best.ValIoU {
			best = s
		}
	}
	return best, len(h.Epochs) > 0
}

// DataFrame returns the history as a gota dataframe, one row per epoch.
func (h *History) DataFrame() dataframe.DataFrame {
	return dataframe.LoadStructs(h.Epochs)
}

// WriteCSV writes the history with a header row.
func (h *History) WriteCSV(w io.Writer) error {
	df := h.DataFrame()
	if df.Err != nil {
		return errors.Wrap(df.Err, "building history dataframe")
	}
	return df.WriteCSV(w)
}

// SaveCSV writes the history to path.
func (h *History) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := h.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return f.Close()
}

// SavePlot draws loss and IoU curves against epochs into an image file. The
// format follows the extension of path (png, svg, pdf...).
func (h *History) SavePlot(path string) error {
	p := plot.New()
	p.Title.Text = "Training curves"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Legend.Top = true

	series := []struct {
		name  string
		value func(EpochStats) float64
	}{
		{"train loss", func(s EpochStats) float64 { return s.TrainLoss }},
		{"val loss", func(s EpochStats) float64 { return s.ValLoss }},
		{"val IoU", func(s EpochStats) float64 { return s.ValIoU }},
	}

	for i, s := range series {
		xys := make(plotter.XYs, len(h.Epochs))
		for j, e := range h.Epochs {
			xys[j].X = float64(e.Epoch)
			xys[j].Y = s.value(e)
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "plotting %s", s.name)
		}
		line.Color = plotutil.Color(i)
		if i == 2 {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Add(plotter.NewGrid())
	p.BackgroundColor = color.White

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot %q", path)
	}
	return nil
}
