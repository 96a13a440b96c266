// Package ipc serves the daemon's control surface: newline-delimited JSON
// over a Unix socket, one response line per request line.
package ipc

import (
	"context"

	"codeberg.org/mutker/smartrefresh/internal/battery"
	"codeberg.org/mutker/smartrefresh/internal/daemon"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
)

const DefaultSocket = "/tmp/smart-refresh.sock"

const (
	CmdGetStatus        = "get_status"
	CmdStartDaemon      = "start_daemon"
	CmdStopDaemon       = "stop_daemon"
	CmdSetSettings      = "set_settings"
	CmdSetDeviceMode    = "set_device_mode"
	CmdSetAdvanced      = "set_advanced_config"
	CmdGetMetrics       = "get_metrics"
	CmdGetBattery       = "get_battery_status"
	CmdGetProfiles      = "get_profiles"
	CmdSaveProfile      = "save_profile"
	CmdDeleteProfile    = "delete_profile"
	CmdSetGameID        = "set_game_id"
	maxRequestLineBytes = 64 * 1024
)

// Older plugin builds send these names.
var aliases = map[string]string{
	"GetStatus":     CmdGetStatus,
	"Start":         CmdStartDaemon,
	"Stop":          CmdStopDaemon,
	"SetConfig":     CmdSetSettings,
	"SetDeviceMode": CmdSetDeviceMode,
}

// Canonical maps an accepted command name to its snake_case form.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Controller is the part of the daemon the control surface drives.
type Controller interface {
	Status() daemon.Status
	Start(ctx context.Context)
	Stop(ctx context.Context)
	SetSettings(ctx context.Context, u daemon.SettingsUpdate) (policy.Settings, []policy.Adjustment, error)
	SetDeviceMode(ctx context.Context, mode string) (policy.Settings, []policy.Adjustment, error)
	SetAdvanced(ctx context.Context, u daemon.AdvancedUpdate) (policy.Advanced, []policy.Adjustment)
	Metrics() history.Metrics
	Battery() battery.State
	Profiles() daemon.Profiles
	SaveProfile(ctx context.Context, appID, name string, u daemon.SettingsUpdate) (profile.Profile, error)
	DeleteProfile(ctx context.Context, appID string) error
	SetGameID(appID, name string) (policy.Settings, bool)
}

type failure struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Code    errors.ErrorCode `json:"code"`
}

func fail(err error) failure {
	return failure{Error: err.Error(), Code: errors.CodeOf(err)}
}

type message struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Success bool `json:"success"`
	daemon.Status
}

type settingsResponse struct {
	Success     bool                `json:"success"`
	Mode        policy.DeviceMode   `json:"mode,omitempty"`
	Config      policy.Settings     `json:"config"`
	Adjustments []policy.Adjustment `json:"adjustments"`
}

type advancedResponse struct {
	Success bool `json:"success"`
	policy.Advanced
	Adjustments []policy.Adjustment `json:"adjustments"`
}

type metricsResponse struct {
	Success bool `json:"success"`
	history.Metrics
}

type batteryResponse struct {
	Success bool `json:"success"`
	battery.State
}

type profilesResponse struct {
	Success bool `json:"success"`
	daemon.Profiles
}

type profileResponse struct {
	Success bool            `json:"success"`
	Profile profile.Profile `json:"profile"`
}

type gameResponse struct {
	Success      bool            `json:"success"`
	AppID        string          `json:"app_id"`
	ProfileFound bool            `json:"profile_found"`
	Config       policy.Settings `json:"config"`
}

func adjustments(adj []policy.Adjustment) []policy.Adjustment {
	if adj == nil {
		return []policy.Adjustment{}
	}
	return adj
}
