package sampler

import (
	"context"
	"time"
)

// Sample is one frame-rate reading.
type Sample struct {
	FPS       float64
	Timestamp time.Time
}

// Source produces frame-rate samples. Sample returns an error coded
// errors.ErrSampleUnavailable when no trustworthy reading exists; callers
// must never treat that as zero fps.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
	Available() bool
	Close() error
}
