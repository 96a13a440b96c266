package daemon

import (
	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
)

// Status is the snapshot returned by get_status.
type Status struct {
	Running                 bool              `json:"running"`
	CurrentFPS              float64           `json:"current_fps"`
	CurrentHz               int               `json:"current_hz"`
	State                   controller.State  `json:"state"`
	DeviceMode              policy.DeviceMode `json:"device_mode"`
	Config                  policy.Settings   `json:"config"`
	MangoHudAvailable       bool              `json:"mangohud_available"`
	ExternalDisplayDetected bool              `json:"external_display_detected"`
	FPSStdDev               float64           `json:"fps_std_dev"`
	CurrentAppID            string            `json:"current_app_id"`
	Transitions             []history.Record  `json:"transitions"`
	FPSTolerance            float64           `json:"fps_tolerance"`
	ResumeCooldownRemaining float64           `json:"resume_cooldown_remaining"`
	SyncFrameLimiter        bool              `json:"sync_frame_limiter"`
	LastError               string            `json:"last_error,omitempty"`
}

// Profiles is the get_profiles view.
type Profiles struct {
	Profiles      []profile.Profile `json:"profiles"`
	CurrentAppID  string            `json:"current_app_id"`
	GlobalDefault policy.Settings   `json:"global_default"`
}

// SettingsUpdate carries a partial set_settings request; nil fields keep
// their current value.
type SettingsUpdate struct {
	MinHz               *int
	MaxHz               *int
	Sensitivity         *string
	AdaptiveSensitivity *bool
}

func (u SettingsUpdate) applyTo(s policy.Settings) (policy.Settings, error) {
	if u.MinHz != nil {
		s.MinHz = *u.MinHz
	}
	if u.MaxHz != nil {
		s.MaxHz = *u.MaxHz
	}
	if u.Sensitivity != nil {
		sens, err := policy.ParseSensitivity(*u.Sensitivity)
		if err != nil {
			return s, err
		}
		s.Sensitivity = sens
	}
	if u.AdaptiveSensitivity != nil {
		s.AdaptiveSensitivity = *u.AdaptiveSensitivity
	}
	return s, nil
}

type AdvancedUpdate struct {
	FPSTolerance       *float64
	ResumeCooldownSecs *float64
	SyncFrameLimiter   *bool
}

func (u AdvancedUpdate) applyTo(a policy.Advanced) policy.Advanced {
	if u.FPSTolerance != nil {
		a.FPSTolerance = *u.FPSTolerance
	}
	if u.ResumeCooldownSecs != nil {
		a.ResumeCooldownSecs = *u.ResumeCooldownSecs
	}
	if u.SyncFrameLimiter != nil {
		a.SyncFrameLimiter = *u.SyncFrameLimiter
	}
	return a
}
