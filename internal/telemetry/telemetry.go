// Package telemetry serves the daemon's state as Prometheus metrics.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartrefresh"

var states = []controller.State{
	controller.Disabled, controller.Stable, controller.PendingDrop, controller.PendingIncrease, controller.Paused,
}

type service struct {
	registry *prometheus.Registry
	server   *http.Server
	log      logger.Logger

	fps             prometheus.Gauge
	fpsAvailable    prometheus.Gauge
	fpsStdDev       prometheus.Gauge
	refreshRate     prometheus.Gauge
	state           *prometheus.GaugeVec
	enabled         prometheus.Gauge
	externalDisplay prometheus.Gauge
	powerWatts      prometheus.Gauge
	avgPowerWatts   prometheus.Gauge
	savingsMinutes  prometheus.Gauge
	transitions     *prometheus.CounterVec
	applyErrors     prometheus.Counter
}

type noopCollector struct{}

// NewService returns a Prometheus-backed collector listening on
// cfg.Listen, or a no-op collector when telemetry is disabled.
func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled() {
		logger.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	s := newService()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errFactory.Wrap(ErrListen, err)
	}

	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Telemetry server stopped")
		}
	}()

	s.log.Info().Str("listen", ln.Addr().String()).Msg("Telemetry endpoint started")

	return s, nil
}

func newService() *service {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	s := &service{
		registry:        prometheus.NewRegistry(),
		log:             logger.Component("telemetry"),
		fps:             gauge("fps", "Last measured frame rate"),
		fpsAvailable:    gauge("fps_available", "Whether a frame rate sample is available"),
		fpsStdDev:       gauge("fps_stddev", "Frame rate standard deviation over the stability window"),
		refreshRate:     gauge("refresh_rate_hz", "Applied display refresh rate"),
		enabled:         gauge("enabled", "Whether automatic switching is enabled"),
		externalDisplay: gauge("external_display", "Whether an external display is connected"),
		powerWatts:      gauge("battery_power_watts", "Instantaneous battery discharge"),
		avgPowerWatts:   gauge("battery_avg_power_watts", "Rolling average battery discharge"),
		savingsMinutes:  gauge("battery_savings_minutes", "Estimated battery life gained"),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "Controller state, 1 for the active state",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed refresh rate changes",
		}, []string{"direction"}),
		applyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_errors_total",
			Help:      "Failed refresh rate applies",
		}),
	}

	s.registry.MustRegister(
		s.fps, s.fpsAvailable, s.fpsStdDev, s.refreshRate, s.state, s.enabled,
		s.externalDisplay, s.powerWatts, s.avgPowerWatts, s.savingsMinutes,
		s.transitions, s.applyErrors,
	)

	return s
}

// Router serves /metrics and /healthz.
func (s *service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrTimeout, err)
	}

	s.fps.Set(snapshot.FPS)
	s.fpsAvailable.Set(boolToFloat(snapshot.FPSAvailable))
	s.fpsStdDev.Set(snapshot.FPSStdDev)
	s.refreshRate.Set(float64(snapshot.CurrentHz))
	s.enabled.Set(boolToFloat(snapshot.Enabled))
	s.externalDisplay.Set(boolToFloat(snapshot.ExternalDisplay))
	for _, st := range states {
		s.state.WithLabelValues(st.String()).Set(boolToFloat(st == snapshot.State))
	}
	if snapshot.Power.Available {
		s.powerWatts.Set(snapshot.Power.Watts)
		s.avgPowerWatts.Set(snapshot.Power.AverageWatts)
		s.savingsMinutes.Set(snapshot.Power.SavingsMinutes)
	}

	return nil
}

func (s *service) RecordTransition(dir controller.Direction) {
	s.transitions.WithLabelValues(string(dir)).Inc()
}

func (s *service) RecordApplyError() {
	s.applyErrors.Inc()
}

func (s *service) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (noopCollector) Record(context.Context, *Snapshot) error { return nil }

func (noopCollector) RecordTransition(controller.Direction) {}

func (noopCollector) RecordApplyError() {}

func (noopCollector) Close() error { return nil }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
