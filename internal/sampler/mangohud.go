package sampler

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"golang.org/x/sys/unix"
)

// segmentSize is the MangoHud overlay layout: fps_val uint64, frametime uint64.
const segmentSize = 16

// MangoHud reads the overlay's shared-memory segment.
type MangoHud struct {
	path      string
	stale     time.Duration
	reconnect time.Duration
	now       func() time.Time
	log       logger.Logger

	mu            sync.Mutex
	data          []byte
	lastAttempt   time.Time
	lastFPS       uint64
	lastFrametime uint64
	lastChange    time.Time
	available     bool
}

func NewMangoHud(path string, staleTimeout, reconnect time.Duration) *MangoHud {
	return &MangoHud{
		path:      path,
		stale:     staleTimeout,
		reconnect: reconnect,
		now:       time.Now,
		log:       logger.Component("sampler"),
	}
}

func (m *MangoHud) Sample(ctx context.Context) (Sample, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return Sample{}, errFactory.Wrap(errors.ErrSampleUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.data == nil {
		if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.reconnect {
			return Sample{}, errFactory.WithMessage(errors.ErrSampleUnavailable, "overlay not mapped")
		}
		m.lastAttempt = now
		if err := m.open(); err != nil {
			m.available = false
			return Sample{}, errFactory.Wrap(errors.ErrSampleUnavailable, err)
		}
		if m.lastChange.IsZero() {
			m.lastChange = now
		}
		m.log.Info().Str("path", m.path).Msg("Attached to MangoHud overlay")
	}

	fps := binary.LittleEndian.Uint64(m.data[0:8])
	frametime := binary.LittleEndian.Uint64(m.data[8:16])

	if fps != m.lastFPS || frametime != m.lastFrametime {
		m.lastFPS, m.lastFrametime = fps, frametime
		m.lastChange = now
	} else if now.Sub(m.lastChange) > m.stale {
		m.log.Debug().Dur("unchanged_for", now.Sub(m.lastChange)).Msg("Overlay stale, detaching")
		m.detach()
		m.lastAttempt = now
		return Sample{}, errFactory.WithMessage(errors.ErrSampleUnavailable, "overlay stale")
	}

	if fps == 0 {
		m.available = false
		return Sample{}, errFactory.WithMessage(errors.ErrSampleUnavailable, "overlay reports no frames")
	}

	m.available = true
	return Sample{FPS: float64(fps), Timestamp: now}, nil
}

// Available reports whether the last read produced a usable sample.
func (m *MangoHud) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MangoHud) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detach()
}

func (m *MangoHud) open() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < segmentSize {
		return errors.New().WithData(errors.ErrSampleUnavailable, "segment too small")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	return nil
}

// detach unmaps the segment but keeps the last values, so a frozen overlay
// stays stale across reconnects.
func (m *MangoHud) detach() error {
	m.available = false
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
