// Package history keeps the bounded transition log and the switching
// statistics derived from it.
package history

import (
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/ring"
)

const DefaultCapacity = 100

// Record is one committed refresh-rate change.
type Record struct {
	Timestamp time.Time            `json:"timestamp"`
	FromHz    int                  `json:"from_hz"`
	ToHz      int                  `json:"to_hz"`
	FPS       float64              `json:"fps_at_switch"`
	Direction controller.Direction `json:"direction"`
}

type Metrics struct {
	TotalSwitches      uint64  `json:"total_switches"`
	SwitchesPerHour    float64 `json:"switches_per_hour"`
	AvgTimeInStableSec float64 `json:"avg_time_in_stable_sec"`
	UptimeSec          float64 `json:"uptime_sec"`
	DropCount          uint64  `json:"drop_count"`
	IncreaseCount      uint64  `json:"increase_count"`
}

// Log is safe for one writer and concurrent readers. Counters are lifetime
// totals and keep growing after the ring starts evicting.
type Log struct {
	records *ring.Ring[Record]
	stable  *ring.Ring[time.Duration]

	mu        sync.RWMutex
	started   time.Time
	total     uint64
	drops     uint64
	increases uint64
	last      time.Time
}

func NewLog(capacity int, started time.Time) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		records: ring.New[Record](capacity),
		stable:  ring.New[time.Duration](capacity),
		started: started,
	}
}

func (l *Log) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	switch r.Direction {
	case controller.Dropped:
		l.drops++
	case controller.Increased:
		l.increases++
	}
	if !l.last.IsZero() && r.Timestamp.After(l.last) {
		l.stable.Append(r.Timestamp.Sub(l.last))
	}
	l.last = r.Timestamp
	l.records.Append(r)
}

// Restore seeds the ring with persisted records without touching the
// lifetime counters.
func (l *Log) Restore(records []Record) {
	for _, r := range records {
		l.records.Append(r)
	}
}

// Recent returns the logged transitions, oldest first.
func (l *Log) Recent() []Record {
	return l.records.Snapshot()
}

func (l *Log) Metrics(now time.Time) Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := Metrics{
		TotalSwitches: l.total,
		DropCount:     l.drops,
		IncreaseCount: l.increases,
	}

	uptime := now.Sub(l.started)
	if uptime > 0 {
		m.UptimeSec = uptime.Seconds()
		m.SwitchesPerHour = float64(l.total) / uptime.Hours()
	}

	if gaps := l.stable.Snapshot(); len(gaps) > 0 {
		var sum time.Duration
		for _, g := range gaps {
			sum += g
		}
		m.AvgTimeInStableSec = (sum / time.Duration(len(gaps))).Seconds()
	}

	return m
}
