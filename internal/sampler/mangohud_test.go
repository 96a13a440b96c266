package sampler

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type overlay struct {
	t *testing.T
	f *os.File
}

func newOverlay(t *testing.T) (*overlay, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mangohud-overlay")
	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	o := &overlay{t: t, f: f}
	o.write(0, 0)

	return o, path
}

func (o *overlay) write(fps, frametime uint64) {
	buf := make([]byte, segmentSize)
	binary.LittleEndian.PutUint64(buf[0:8], fps)
	binary.LittleEndian.PutUint64(buf[8:16], frametime)
	_, err := o.f.WriteAt(buf, 0)
	require.NoError(o.t, err)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSampler(path string, c *clock) *MangoHud {
	m := NewMangoHud(path, 3*time.Second, 5*time.Second)
	m.now = c.Now
	return m
}

func TestSampleReadsOverlay(t *testing.T) {
	o, path := newOverlay(t)
	c := &clock{now: time.Unix(1000, 0)}
	m := newTestSampler(path, c)
	defer m.Close()

	o.write(60, 16666)
	s, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 60.0, s.FPS, 1e-9)
	assert.Equal(t, c.now, s.Timestamp)
	assert.True(t, m.Available())

	c.Advance(100 * time.Millisecond)
	o.write(45, 22222)
	s, err = m.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 45.0, s.FPS, 1e-9)
}

func TestZeroFPSIsUnavailable(t *testing.T) {
	_, path := newOverlay(t)
	c := &clock{now: time.Unix(1000, 0)}
	m := newTestSampler(path, c)
	defer m.Close()

	_, err := m.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSampleUnavailable))
	assert.False(t, m.Available())
}

func TestStaleOverlayIsUnavailable(t *testing.T) {
	o, path := newOverlay(t)
	c := &clock{now: time.Unix(1000, 0)}
	m := newTestSampler(path, c)
	defer m.Close()

	o.write(60, 16666)
	_, err := m.Sample(context.Background())
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	_, err = m.Sample(context.Background())
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	_, err = m.Sample(context.Background())
	require.Error(t, err)
	assert.False(t, m.Available())

	// A reconnect to the same frozen segment stays stale.
	c.Advance(6 * time.Second)
	_, err = m.Sample(context.Background())
	require.Error(t, err)

	c.Advance(6 * time.Second)
	o.write(30, 33333)
	s, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 30.0, s.FPS, 1e-9)
}

func TestMissingSegmentThrottlesReconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")
	c := &clock{now: time.Unix(1000, 0)}
	m := newTestSampler(path, c)
	defer m.Close()

	_, err := m.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSampleUnavailable))

	o := &overlay{t: t}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	o.f = f
	o.write(90, 11111)

	c.Advance(time.Second)
	_, err = m.Sample(context.Background())
	require.Error(t, err, "reconnect must wait for the retry interval")

	c.Advance(5 * time.Second)
	s, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 90.0, s.FPS, 1e-9)
}

func TestShortSegmentIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	m := NewMangoHud(path, time.Second, time.Second)
	_, err := m.Sample(context.Background())
	require.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	m := NewMangoHud("/nonexistent", time.Second, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Sample(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSampleUnavailable))
}
