package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Meter accumulates per batch loss and IoU across an epoch.
type Meter struct {
	losses  []float64
	weights []float64
	ious    []float64
}

// NewMeter creates an empty Meter.
func NewMeter() *Meter {
	return &Meter{}
}

// Add records one batch of n samples. A NaN iou is kept out of the IoU mean.
func (m *Meter) Add(loss, iou float64, n int) {
	m.losses = append(m.losses, loss)
	m.weights = append(m.weights, float64(n))
	if !math.IsNaN(iou) {
		m.ious = append(m.ious, iou)
	}
}

// Batches returns the number of recorded batches.
func (m *Meter) Batches() int { return len(m.losses) }

// Samples returns the number of recorded samples.
func (m *Meter) Samples() int {
	return int(floats.Sum(m.weights))
}

// Loss returns the sample weighted mean loss, 0 when empty.
func (m *Meter) Loss() float64 {
	if len(m.losses) == 0 || floats.Sum(m.weights) == 0 {
		return 0
	}
	return stat.Mean(m.losses, m.weights)
}

// IoU returns the mean of per batch IoU values, 0 when empty.
func (m *Meter) IoU() float64 {
	if len(m.ious) == 0 {
		return 0
	}
	return stat.Mean(m.ious, nil)
}

// LossStdDev returns the unweighted standard deviation of batch losses.
func (m *Meter) LossStdDev() float64 {
	if len(m.losses) < 2 {
		return 0
	}
	return stat.StdDev(m.losses, nil)
}

// Reset clears all records.
func (m *Meter) Reset() {
	m.losses = m.losses[:0]
	m.weights = m.weights[:0]
	m.ious = m.ious[:0]
}
