package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
)

// Collector exports the control loop's state.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	RecordTransition(dir controller.Direction)
	RecordApplyError()
	Close() error
}

// Snapshot is the per-tick view the control loop publishes.
type Snapshot struct {
	Timestamp       time.Time
	FPS             float64
	FPSAvailable    bool
	FPSStdDev       float64
	CurrentHz       int
	State           controller.State
	Enabled         bool
	ExternalDisplay bool
	Power           PowerMetrics
}

type PowerMetrics struct {
	Available      bool
	Watts          float64
	AverageWatts   float64
	SavingsMinutes float64
}
