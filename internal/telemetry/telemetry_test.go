package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoop(t *testing.T) {
	c, err := NewService(Config{})
	require.NoError(t, err)

	_, ok := c.(noopCollector)
	assert.True(t, ok)
	assert.NoError(t, c.Record(context.Background(), &Snapshot{}))
	assert.NoError(t, c.Close())
}

func TestInvalidListen(t *testing.T) {
	_, err := NewService(Config{Listen: "no-port"})
	require.Error(t, err)
}

func scrape(t *testing.T, s *service) string {
	t.Helper()

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

func TestRecord(t *testing.T) {
	s := newService()

	err := s.Record(context.Background(), &Snapshot{
		Timestamp:    time.Now(),
		FPS:          58,
		FPSAvailable: true,
		FPSStdDev:    1.5,
		CurrentHz:    60,
		State:        controller.PendingDrop,
		Enabled:      true,
		Power:        PowerMetrics{Available: true, Watts: 11, AverageWatts: 10.5, SavingsMinutes: 4},
	})
	require.NoError(t, err)
	s.RecordTransition(controller.Dropped)
	s.RecordTransition(controller.Dropped)
	s.RecordApplyError()

	body := scrape(t, s)
	assert.Contains(t, body, "smartrefresh_refresh_rate_hz 60")
	assert.Contains(t, body, `smartrefresh_controller_state{state="pending_drop"} 1`)
	assert.Contains(t, body, `smartrefresh_controller_state{state="stable"} 0`)
	assert.Contains(t, body, `smartrefresh_transitions_total{direction="dropped"} 2`)
	assert.Contains(t, body, "smartrefresh_apply_errors_total 1")
	assert.Contains(t, body, "smartrefresh_battery_avg_power_watts 10.5")

	assert.Error(t, s.Record(context.Background(), nil))
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newService().Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServiceLifecycle(t *testing.T) {
	c, err := NewService(Config{Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
