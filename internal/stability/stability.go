// Package stability measures how steady the frame rate has been recently.
package stability

import (
	"math"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/sampler"
)

const DefaultWindow = 30 * time.Second

// Estimator keeps a time-bounded window of samples with running sums so
// that Mean and StdDev are O(1). It is owned by the control loop and is not
// safe for concurrent use.
type Estimator struct {
	window  time.Duration
	samples []sampler.Sample
	sum     float64
	sumSq   float64
}

func New(window time.Duration) *Estimator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Estimator{window: window}
}

// Add appends s and evicts samples older than the window relative to s.
func (e *Estimator) Add(s sampler.Sample) {
	e.samples = append(e.samples, s)
	e.sum += s.FPS
	e.sumSq += s.FPS * s.FPS

	cutoff := s.Timestamp.Add(-e.window)
	drop := 0
	for drop < len(e.samples) && e.samples[drop].Timestamp.Before(cutoff) {
		old := e.samples[drop].FPS
		e.sum -= old
		e.sumSq -= old * old
		drop++
	}
	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
	if len(e.samples) == 0 {
		e.sum, e.sumSq = 0, 0
	}
}

func (e *Estimator) Len() int {
	return len(e.samples)
}

func (e *Estimator) Mean() float64 {
	if len(e.samples) == 0 {
		return 0
	}
	return e.sum / float64(len(e.samples))
}

// StdDev is the population standard deviation of the window, 0 with fewer
// than two samples.
func (e *Estimator) StdDev() float64 {
	n := float64(len(e.samples))
	if n < 2 {
		return 0
	}
	mean := e.sum / n
	variance := e.sumSq/n - mean*mean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func (e *Estimator) Reset() {
	e.samples = e.samples[:0]
	e.sum, e.sumSq = 0, 0
}
