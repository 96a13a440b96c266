// Package daemon runs the refresh-rate control loop and owns the state the
// control surface reads and changes.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/battery"
	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/display"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
	"codeberg.org/mutker/smartrefresh/internal/sampler"
	"codeberg.org/mutker/smartrefresh/internal/stability"
	"codeberg.org/mutker/smartrefresh/internal/store"
	"codeberg.org/mutker/smartrefresh/internal/telemetry"
)

const (
	DefaultInterval     = 100 * time.Millisecond
	DefaultApplyTimeout = 250 * time.Millisecond
)

// StateStore persists what must survive a restart.
type StateStore interface {
	SaveState(ctx context.Context, st store.State) error
	RecordTransition(r history.Record) error
}

type Deps struct {
	Source   sampler.Source
	Driver   display.Driver
	Monitors display.MonitorDetector
	Resume   display.ResumeDetector
	Profiles *profile.Manager
	// Battery and Store may be nil.
	Battery   *battery.Estimator
	Store     StateStore
	Telemetry telemetry.Collector
}

type Options struct {
	Interval        time.Duration
	ApplyTimeout    time.Duration
	Calibration     policy.Calibration
	HistoryCapacity int
	Window          time.Duration
	// Initial is the persisted state; nil means nothing was saved yet.
	Initial *store.State
	// History seeds the transition log shown in status.
	History []history.Record
}

// active is the configuration the tick works with.
type active struct {
	settings policy.Settings
	mode     policy.DeviceMode
	advanced policy.Advanced
}

// Daemon splits its state between two owners. Control-surface calls write
// the requested configuration under mu and bump version; the tick picks up
// new versions and is the only writer of everything else.
type Daemon struct {
	deps    Deps
	opts    Options
	log     logger.Logger
	now     func() time.Time
	history *history.Log

	mu       sync.Mutex
	global   policy.Settings
	base     policy.Settings
	mode     policy.DeviceMode
	advanced policy.Advanced
	version  uint64

	ctrl         *controller.Controller
	estimator    *stability.Estimator
	cur          active
	curVersion   uint64
	lastError    string
	frameLimit   int
	fpsAvailable bool
	lastState    controller.State
	lastExternal bool

	status atomic.Pointer[Status]
}

func New(deps Deps, opts Options) (*Daemon, error) {
	errFactory := errors.New()

	if deps.Source == nil || deps.Driver == nil || deps.Profiles == nil {
		return nil, errFactory.WithMessage(errors.ErrInitFailed, "sampler, driver and profiles are required")
	}
	if deps.Telemetry == nil {
		noop, err := telemetry.NewService(telemetry.Config{})
		if err != nil {
			return nil, err
		}
		deps.Telemetry = noop
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = DefaultApplyTimeout
	}
	if opts.Calibration == (policy.Calibration{}) {
		opts.Calibration = policy.DefaultCalibration()
	}

	initial := store.State{
		Settings: policy.DefaultSettings(),
		Mode:     policy.Custom,
		Advanced: policy.DefaultAdvanced(),
	}
	if opts.Initial != nil {
		initial = *opts.Initial
		if !initial.Mode.Valid() {
			initial.Mode = policy.Custom
		}
		initial.Advanced, _ = initial.Advanced.Normalize()
	}

	d := &Daemon{
		deps:     deps,
		opts:     opts,
		log:      logger.Component("daemon"),
		now:      time.Now,
		global:   initial.Settings,
		base:     initial.Settings,
		mode:     initial.Mode,
		advanced: initial.Advanced,
		version:  1,
	}

	effective, _ := policy.Apply(initial.Mode, initial.Settings)
	d.ctrl = controller.New(effective.MaxHz)
	d.estimator = stability.New(opts.Window)
	d.lastState = d.ctrl.State()
	d.history = history.NewLog(opts.HistoryCapacity, d.now())
	d.history.Restore(opts.History)

	return d, nil
}

// Run applies the full refresh rate, then ticks until ctx is cancelled.
// The panel is returned to its full rate on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	d.prepare(ctx)

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.log.Info().
		Dur("interval", d.opts.Interval).
		Str("device_mode", string(d.cur.mode)).
		Int("min_hz", d.cur.settings.MinHz).
		Int("max_hz", d.cur.settings.MaxHz).
		Bool("enabled", d.cur.settings.Enabled).
		Msg("Control loop started")

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) prepare(ctx context.Context) {
	d.sync()
	d.startup(ctx)
	d.publish(d.now(), sampler.Sample{}, false)
}

func (d *Daemon) startup(ctx context.Context) {
	now := d.now()
	hz := d.cur.settings.MaxHz

	applyCtx, cancel := context.WithTimeout(ctx, d.opts.ApplyTimeout)
	defer cancel()

	if err := d.deps.Driver.Apply(applyCtx, hz); err != nil {
		d.lastError = err.Error()
		d.log.Warn().Err(err).Int("hz", hz).Msg("Failed to apply initial refresh rate")
		return
	}
	d.ctrl.SetCurrentHz(hz, now)
}

func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ApplyTimeout*4)
	defer cancel()

	if d.frameLimit != 0 {
		if err := d.deps.Driver.ApplyFrameLimit(ctx, 0); err != nil {
			d.log.Warn().Err(err).Msg("Failed to remove frame limit")
		}
	}
	if err := d.deps.Driver.Apply(ctx, d.cur.settings.MaxHz); err != nil {
		d.log.Warn().Err(err).Msg("Failed to restore refresh rate")
	}

	d.mu.Lock()
	st := d.persistedLocked()
	d.mu.Unlock()
	d.persist(ctx, st)

	d.log.Info().Msg("Control loop stopped")
}

func (d *Daemon) tick(ctx context.Context) {
	now := d.now()
	d.sync()
	cfg := d.cur

	if d.deps.Resume != nil && d.deps.Resume.Resumed() {
		d.log.Info().Dur("cooldown", cfg.advanced.ResumeCooldown()).Msg("Resumed from suspend, discarding stale measurements")
		d.ctrl.Resume(now, cfg.advanced.ResumeCooldown())
		d.estimator.Reset()
	}

	sample, err := d.deps.Source.Sample(ctx)
	available := err == nil
	if available {
		d.estimator.Add(sample)
	}
	if available != d.fpsAvailable {
		if available {
			d.log.Info().Msg("Frame rate source available")
		} else {
			d.log.Info().Err(err).Msg("Frame rate source unavailable")
		}
		d.fpsAvailable = available
	}

	external := d.deps.Monitors != nil && d.deps.Monitors.ExternalDisplay()
	if external != d.lastExternal {
		d.log.Info().Bool("connected", external).Msg("External display changed")
		d.lastExternal = external
	}

	stdDev := d.estimator.StdDev()
	params := controller.Params{
		MinHz:       cfg.settings.MinHz,
		MaxHz:       cfg.settings.MaxHz,
		Delays:      policy.EffectiveDelays(cfg.mode, cfg.settings, stdDev, d.opts.Calibration),
		MinInterval: policy.RulesFor(cfg.mode).MinChangeInterval,
		Tolerance:   cfg.advanced.FPSTolerance,
	}
	in := controller.Input{
		Now:             now,
		FPS:             sample.FPS,
		FPSAvailable:    available,
		Enabled:         cfg.settings.Enabled,
		ExternalDisplay: external,
	}

	if dec, ok := d.ctrl.Step(in, params); ok {
		d.apply(ctx, dec, now)
	}

	if state := d.ctrl.State(); state != d.lastState {
		d.log.Debug().
			Str("from", d.lastState.String()).
			Str("to", state.String()).
			Int("current_hz", d.ctrl.CurrentHz()).
			Int("pending_hz", d.ctrl.PendingTarget()).
			Float64("fps", sample.FPS).
			Msg("Controller state changed")
		d.lastState = state
	}

	limit := 0
	if cfg.advanced.SyncFrameLimiter && cfg.settings.Enabled {
		limit = d.ctrl.CurrentHz()
	}
	d.syncFrameLimit(ctx, limit)

	if d.deps.Battery != nil {
		d.deps.Battery.Update(now, d.ctrl.CurrentHz(), cfg.settings.MaxHz)
	}

	d.publish(now, sample, available)
}

func (d *Daemon) apply(ctx context.Context, dec controller.Decision, now time.Time) {
	applyCtx, cancel := context.WithTimeout(ctx, d.opts.ApplyTimeout)
	defer cancel()

	if err := d.deps.Driver.Apply(applyCtx, dec.ToHz); err != nil {
		d.lastError = err.Error()
		d.deps.Telemetry.RecordApplyError()
		d.log.Warn().Err(err).Int("from_hz", dec.FromHz).Int("to_hz", dec.ToHz).Msg("Failed to apply refresh rate")
		return
	}

	d.lastError = ""
	d.ctrl.Accept(dec, now)

	rec := history.Record{
		Timestamp: now,
		FromHz:    dec.FromHz,
		ToHz:      dec.ToHz,
		FPS:       dec.FPS,
		Direction: dec.Direction,
	}
	d.history.Append(rec)
	d.deps.Telemetry.RecordTransition(dec.Direction)
	if d.deps.Store != nil {
		if err := d.deps.Store.RecordTransition(rec); err != nil {
			d.log.Warn().Err(err).Msg("Failed to record transition")
		}
	}

	d.log.Info().
		Int("from_hz", dec.FromHz).
		Int("to_hz", dec.ToHz).
		Float64("fps", dec.FPS).
		Str("direction", string(dec.Direction)).
		Msg("Refresh rate changed")
}

func (d *Daemon) syncFrameLimit(ctx context.Context, hz int) {
	if hz == d.frameLimit {
		return
	}

	applyCtx, cancel := context.WithTimeout(ctx, d.opts.ApplyTimeout)
	defer cancel()

	if err := d.deps.Driver.ApplyFrameLimit(applyCtx, hz); err != nil {
		d.log.Warn().Err(err).Int("limit", hz).Msg("Failed to sync frame limiter")
	}
	// Retried on the next rate change rather than every tick.
	d.frameLimit = hz
}

// sync adopts a newer requested configuration. Pending timers belong to
// the old configuration and are dropped.
func (d *Daemon) sync() {
	d.mu.Lock()
	if d.version == d.curVersion {
		d.mu.Unlock()
		return
	}
	effective, _ := policy.Apply(d.mode, d.base)
	adv, _ := d.advanced.Normalize()
	d.cur = active{settings: effective, mode: d.mode, advanced: adv}
	d.curVersion = d.version
	d.mu.Unlock()

	d.ctrl.Reset()
}

func (d *Daemon) publish(now time.Time, sample sampler.Sample, available bool) {
	fps := 0.0
	if available {
		fps = sample.FPS
	}

	st := &Status{
		CurrentFPS:              fps,
		CurrentHz:               d.ctrl.CurrentHz(),
		State:                   d.ctrl.State(),
		MangoHudAvailable:       d.deps.Source.Available(),
		ExternalDisplayDetected: d.lastExternal,
		FPSStdDev:               d.estimator.StdDev(),
		ResumeCooldownRemaining: d.ctrl.CooldownRemaining(now).Seconds(),
		LastError:               d.lastError,
	}
	d.status.Store(st)

	snap := &telemetry.Snapshot{
		Timestamp:       now,
		FPS:             fps,
		FPSAvailable:    available,
		FPSStdDev:       st.FPSStdDev,
		CurrentHz:       st.CurrentHz,
		State:           st.State,
		Enabled:         d.cur.settings.Enabled,
		ExternalDisplay: st.ExternalDisplayDetected,
	}
	if d.deps.Battery != nil {
		b := d.deps.Battery.State()
		snap.Power = telemetry.PowerMetrics{
			Available:      b.Available,
			Watts:          b.PowerWatts,
			AverageWatts:   b.AvgPowerWatts,
			SavingsMinutes: b.EstimatedSavingsMinutes,
		}
	}
	if err := d.deps.Telemetry.Record(context.Background(), snap); err != nil {
		d.log.Debug().Err(err).Msg("Failed to record telemetry")
	}
}

// persistedLocked returns the state written to the store. Profile
// overrides are session state and never replace the global settings.
func (d *Daemon) persistedLocked() store.State {
	effective, _ := policy.Apply(d.mode, d.global)
	adv, _ := d.advanced.Normalize()
	return store.State{Settings: effective, Mode: d.mode, Advanced: adv}
}

func (d *Daemon) persist(ctx context.Context, st store.State) {
	if d.deps.Store == nil {
		return
	}
	if err := d.deps.Store.SaveState(ctx, st); err != nil {
		d.log.ErrorWithContext(errors.New().Wrap(errors.ErrPersistence, err), "save_state").Msg("Keeping in-memory state")
	}
}

func (d *Daemon) bumpLocked() {
	d.version++
}
