package daemon

import (
	"context"

	"codeberg.org/mutker/smartrefresh/internal/battery"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
)

// Status merges the last tick's snapshot with the requested configuration,
// so a change is visible before the next tick picks it up.
func (d *Daemon) Status() Status {
	var st Status
	if p := d.status.Load(); p != nil {
		st = *p
	}

	d.mu.Lock()
	effective, _ := policy.Apply(d.mode, d.base)
	adv, _ := d.advanced.Normalize()
	mode := d.mode
	d.mu.Unlock()

	st.Running = effective.Enabled
	st.Config = effective
	st.DeviceMode = mode
	st.FPSTolerance = adv.FPSTolerance
	st.SyncFrameLimiter = adv.SyncFrameLimiter
	st.CurrentAppID = d.deps.Profiles.Current().AppID
	st.Transitions = d.history.Recent()

	return st
}

func (d *Daemon) Start(ctx context.Context) {
	d.setEnabled(ctx, true)
	d.log.Info().Msg("Automatic switching enabled")
}

func (d *Daemon) Stop(ctx context.Context) {
	d.setEnabled(ctx, false)
	d.log.Info().Msg("Automatic switching disabled")
}

func (d *Daemon) setEnabled(ctx context.Context, enabled bool) {
	d.mu.Lock()
	d.global.Enabled = enabled
	d.base.Enabled = enabled
	d.bumpLocked()
	st := d.persistedLocked()
	global := d.global
	d.mu.Unlock()

	if err := d.deps.Profiles.SetGlobalDefault(ctx, global); err != nil {
		d.log.Warn().Err(err).Msg("Failed to save global default")
	}
	d.persist(ctx, st)
}

// SetSettings changes the running configuration and returns it as the
// device policy applied it. With no profile active the change also becomes
// the global default.
func (d *Daemon) SetSettings(ctx context.Context, u SettingsUpdate) (policy.Settings, []policy.Adjustment, error) {
	profileActive := d.deps.Profiles.Active()

	d.mu.Lock()
	next, err := u.applyTo(d.base)
	if err != nil {
		d.mu.Unlock()
		return policy.Settings{}, nil, err
	}
	effective, adj := policy.Apply(d.mode, next)
	d.base = next
	if !profileActive {
		d.global = next
	}
	d.bumpLocked()
	st := d.persistedLocked()
	global := d.global
	d.mu.Unlock()

	if !profileActive {
		if err := d.deps.Profiles.SetGlobalDefault(ctx, global); err != nil {
			d.log.Warn().Err(err).Msg("Failed to save global default")
		}
	}
	d.persist(ctx, st)

	d.log.Info().
		Int("min_hz", effective.MinHz).
		Int("max_hz", effective.MaxHz).
		Str("sensitivity", string(effective.Sensitivity)).
		Bool("adaptive", effective.AdaptiveSensitivity).
		Int("adjustments", len(adj)).
		Msg("Settings updated")

	return effective, adj, nil
}

func (d *Daemon) SetDeviceMode(ctx context.Context, name string) (policy.Settings, []policy.Adjustment, error) {
	mode, err := policy.ParseDeviceMode(name)
	if err != nil {
		return policy.Settings{}, nil, err
	}

	d.mu.Lock()
	d.mode = mode
	effective, adj := policy.Apply(mode, d.base)
	d.bumpLocked()
	st := d.persistedLocked()
	d.mu.Unlock()

	d.persist(ctx, st)

	d.log.Info().
		Str("mode", string(mode)).
		Dur("min_change_interval", policy.RulesFor(mode).MinChangeInterval).
		Msg("Device mode set")

	return effective, adj, nil
}

func (d *Daemon) SetAdvanced(ctx context.Context, u AdvancedUpdate) (policy.Advanced, []policy.Adjustment) {
	d.mu.Lock()
	next, adj := u.applyTo(d.advanced).Normalize()
	d.advanced = next
	d.bumpLocked()
	st := d.persistedLocked()
	d.mu.Unlock()

	d.persist(ctx, st)

	d.log.Info().
		Float64("fps_tolerance", next.FPSTolerance).
		Float64("resume_cooldown_secs", next.ResumeCooldownSecs).
		Bool("sync_frame_limiter", next.SyncFrameLimiter).
		Msg("Advanced configuration updated")

	return next, adj
}

// SetGameID switches to the profile of appID, or back to the global
// settings when it has none. It returns the effective settings and whether
// a profile matched.
func (d *Daemon) SetGameID(appID, name string) (policy.Settings, bool) {
	settings, found := d.deps.Profiles.OnAppChanged(profile.AppChanged{AppID: appID, Name: name})

	d.mu.Lock()
	if found {
		settings.Enabled = d.global.Enabled
		d.base = settings
	} else {
		d.base = d.global
	}
	effective, _ := policy.Apply(d.mode, d.base)
	d.bumpLocked()
	d.mu.Unlock()

	d.log.Debug().Str("app_id", appID).Bool("profile", found).Msg("Foreground app changed")

	return effective, found
}

// SaveProfile stores u on top of the global settings as appID's profile
// and activates it when appID is in the foreground.
func (d *Daemon) SaveProfile(ctx context.Context, appID, name string, u SettingsUpdate) (profile.Profile, error) {
	d.mu.Lock()
	s, err := u.applyTo(d.global)
	d.mu.Unlock()
	if err != nil {
		return profile.Profile{}, err
	}

	p, err := d.deps.Profiles.Save(ctx, appID, name, s)
	if err != nil {
		return profile.Profile{}, err
	}

	if d.deps.Profiles.Current().AppID == appID {
		d.mu.Lock()
		d.base = p.Settings(d.global.Enabled)
		d.bumpLocked()
		d.mu.Unlock()
	}

	d.log.Info().Str("app_id", appID).Str("name", name).Msg("Profile saved")

	return p, nil
}

func (d *Daemon) DeleteProfile(ctx context.Context, appID string) error {
	if err := d.deps.Profiles.Delete(ctx, appID); err != nil {
		return err
	}

	if d.deps.Profiles.Current().AppID == appID {
		d.mu.Lock()
		d.base = d.global
		d.bumpLocked()
		d.mu.Unlock()
	}

	d.log.Info().Str("app_id", appID).Msg("Profile deleted")

	return nil
}

func (d *Daemon) Profiles() Profiles {
	return Profiles{
		Profiles:      d.deps.Profiles.List(),
		CurrentAppID:  d.deps.Profiles.Current().AppID,
		GlobalDefault: d.deps.Profiles.GlobalDefault(),
	}
}

func (d *Daemon) Metrics() history.Metrics {
	return d.history.Metrics(d.now())
}

func (d *Daemon) Battery() battery.State {
	if d.deps.Battery == nil {
		return battery.State{}
	}
	return d.deps.Battery.State()
}
