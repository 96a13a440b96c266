package display

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Clocks returns CLOCK_BOOTTIME and CLOCK_MONOTONIC. Only the former
// advances while the system is suspended.
type Clocks func() (boot, mono time.Duration, err error)

func systemClocks() (time.Duration, time.Duration, error) {
	var boot, mono unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &boot); err != nil {
		return 0, 0, err
	}
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err != nil {
		return 0, 0, err
	}
	return time.Duration(boot.Nano()), time.Duration(mono.Nano()), nil
}

// SuspendDetector reports a resume when the gap between boot and monotonic
// time grew by more than threshold since the previous call.
type SuspendDetector struct {
	threshold time.Duration
	clocks    Clocks

	mu       sync.Mutex
	lastGap  time.Duration
	hasPrior bool
}

func NewSuspendDetector(threshold time.Duration, clocks Clocks) *SuspendDetector {
	if clocks == nil {
		clocks = systemClocks
	}
	return &SuspendDetector{threshold: threshold, clocks: clocks}
}

func (s *SuspendDetector) Resumed() bool {
	boot, mono, err := s.clocks()
	if err != nil {
		return false
	}
	gap := boot - mono

	s.mu.Lock()
	defer s.mu.Unlock()

	resumed := s.hasPrior && gap-s.lastGap > s.threshold
	s.lastGap = gap
	s.hasPrior = true

	return resumed
}
