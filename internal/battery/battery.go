// Package battery estimates how much battery life refresh-rate reduction
// has saved.
package battery

import (
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"github.com/asecurityteam/rolling"
)

const (
	ErrNoSensor = errors.ErrorCode("battery_no_sensor")

	windowSize     = 50
	sampleInterval = time.Second
	// Gaps longer than this (suspend, stalls) are not integrated.
	maxIntegrationGap = 10 * time.Second
)

type State struct {
	PowerWatts              float64 `json:"power_watts"`
	AvgPowerWatts           float64 `json:"avg_power_watts"`
	EstimatedSavingsMinutes float64 `json:"estimated_savings_minutes"`
	Available               bool    `json:"available"`
}

// Estimator integrates the difference between the learned full-rate power
// draw and the average draw at the current rate. Until a full-rate baseline
// has been observed it assumes draw scales with refresh rate.
type Estimator struct {
	sensor PowerSensor

	mu              sync.RWMutex
	window          *rolling.PointPolicy
	samples         int
	baseline        *rolling.PointPolicy
	baselineSamples int
	rateHz          int
	atRate          *rolling.PointPolicy
	atRateSamples   int
	savedWh         float64
	lastRead        time.Time
	last            float64
	available       bool
}

func NewEstimator(sensor PowerSensor) *Estimator {
	return &Estimator{
		sensor:   sensor,
		window:   rolling.NewPointPolicy(rolling.NewWindow(windowSize)),
		baseline: rolling.NewPointPolicy(rolling.NewWindow(windowSize)),
	}
}

// Update reads the sensor at most once per second.
func (e *Estimator) Update(now time.Time, currentHz, maxHz int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastRead.IsZero() && now.Sub(e.lastRead) < sampleInterval {
		return
	}

	w, err := e.sensor.PowerWatts()
	if err != nil {
		e.available = false
		return
	}

	prev := e.lastRead
	e.lastRead = now
	e.last = w
	e.available = true
	e.window.Append(w)
	e.samples++

	if currentHz != e.rateHz {
		e.rateHz = currentHz
		e.atRate = rolling.NewPointPolicy(rolling.NewWindow(windowSize))
		e.atRateSamples = 0
	}
	e.atRate.Append(w)
	e.atRateSamples++

	if currentHz >= maxHz {
		e.baseline.Append(w)
		e.baselineSamples++
		return
	}

	dt := now.Sub(prev)
	if prev.IsZero() || dt <= 0 || dt > maxIntegrationGap || currentHz <= 0 {
		return
	}

	atRate := mean(e.atRate, e.atRateSamples)
	base := e.baselineLocked(atRate, currentHz, maxHz)
	if saved := base - atRate; saved > 0 {
		e.savedWh += saved * dt.Hours()
	}
}

func (e *Estimator) baselineLocked(atRate float64, currentHz, maxHz int) float64 {
	if e.baselineSamples > 0 {
		return mean(e.baseline, e.baselineSamples)
	}
	return atRate * float64(maxHz) / float64(currentHz)
}

func (e *Estimator) averageLocked() float64 {
	return mean(e.window, e.samples)
}

// mean averages only the filled part of a point window; unfilled buckets
// hold zeros.
func mean(p *rolling.PointPolicy, appended int) float64 {
	n := min(appended, windowSize)
	if n == 0 {
		return 0
	}
	return p.Reduce(rolling.Sum) / float64(n)
}

func (e *Estimator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.available {
		return State{}
	}

	avg := e.averageLocked()
	s := State{PowerWatts: e.last, AvgPowerWatts: avg, Available: true}
	if avg > 0 {
		s.EstimatedSavingsMinutes = e.savedWh / avg * 60
	}

	return s
}
