package ipc_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/battery"
	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/daemon"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/ipc"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	settings daemon.SettingsUpdate
	advanced daemon.AdvancedUpdate
	mode     string
	gameID   string
	saved    map[string]daemon.SettingsUpdate
}

func newFakeController() *fakeController {
	return &fakeController{running: true, saved: make(map[string]daemon.SettingsUpdate)}
}

func (f *fakeController) Status() daemon.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return daemon.Status{
		Running:    f.running,
		CurrentFPS: 58.5,
		CurrentHz:  60,
		State:      controller.Stable,
		DeviceMode: policy.OLED,
		Config:     policy.DefaultSettings(),
		Transitions: []history.Record{
			{FromHz: 90, ToHz: 60, FPS: 58.5, Direction: controller.Dropped},
		},
	}
}

func (f *fakeController) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *fakeController) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeController) SetSettings(_ context.Context, u daemon.SettingsUpdate) (policy.Settings, []policy.Adjustment, error) {
	if u.Sensitivity != nil {
		if _, err := policy.ParseSensitivity(*u.Sensitivity); err != nil {
			return policy.Settings{}, nil, err
		}
	}
	f.mu.Lock()
	f.settings = u
	f.mu.Unlock()

	s := policy.DefaultSettings()
	if u.MinHz != nil {
		s.MinHz = *u.MinHz
	}
	if u.MaxHz != nil {
		s.MaxHz = *u.MaxHz
	}
	s, adj := policy.Apply(policy.OLED, s)
	return s, adj, nil
}

func (f *fakeController) SetDeviceMode(_ context.Context, mode string) (policy.Settings, []policy.Adjustment, error) {
	m, err := policy.ParseDeviceMode(mode)
	if err != nil {
		return policy.Settings{}, nil, err
	}
	f.mu.Lock()
	f.mode = string(m)
	f.mu.Unlock()
	s, adj := policy.Apply(m, policy.DefaultSettings())
	return s, adj, nil
}

func (f *fakeController) SetAdvanced(_ context.Context, u daemon.AdvancedUpdate) (policy.Advanced, []policy.Adjustment) {
	f.mu.Lock()
	f.advanced = u
	f.mu.Unlock()
	a := policy.DefaultAdvanced()
	if u.FPSTolerance != nil {
		a.FPSTolerance = *u.FPSTolerance
	}
	return a.Normalize()
}

func (f *fakeController) Metrics() history.Metrics {
	return history.Metrics{TotalSwitches: 3, DropCount: 2, IncreaseCount: 1}
}

func (f *fakeController) Battery() battery.State {
	return battery.State{PowerWatts: 9.5, AvgPowerWatts: 10, EstimatedSavingsMinutes: 12, Available: true}
}

func (f *fakeController) Profiles() daemon.Profiles {
	return daemon.Profiles{Profiles: []profile.Profile{{AppID: "1", Name: "Game"}}, CurrentAppID: "1", GlobalDefault: policy.DefaultSettings()}
}

func (f *fakeController) SaveProfile(_ context.Context, appID, name string, u daemon.SettingsUpdate) (profile.Profile, error) {
	if appID == "" {
		return profile.Profile{}, errors.New().WithMessage(errors.ErrInvalidArgument, "app_id is required")
	}
	f.mu.Lock()
	f.saved[appID] = u
	f.mu.Unlock()
	p := profile.Profile{AppID: appID, Name: name}
	if u.MinHz != nil {
		p.MinHz = *u.MinHz
	}
	return p, nil
}

func (f *fakeController) DeleteProfile(_ context.Context, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.saved[appID]; !ok {
		return errors.New().WithData(errors.ErrProfileNotFound, appID)
	}
	delete(f.saved, appID)
	return nil
}

func (f *fakeController) SetGameID(appID, _ string) (policy.Settings, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameID = appID
	_, ok := f.saved[appID]
	return policy.DefaultSettings(), ok
}

func readLines(t *testing.T, conn net.Conn, n int) []string {
	t.Helper()
	r := bufio.NewReader(conn)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, line)
	}
	return lines
}

func handle(t *testing.T, h *ipc.Handler, req string) gjson.Result {
	t.Helper()
	out, err := json.Marshal(h.Handle(context.Background(), []byte(req)))
	require.NoError(t, err)
	return gjson.ParseBytes(out)
}

func TestGetStatus(t *testing.T) {
	h := ipc.NewHandler(newFakeController())

	for _, name := range []string{"get_status", "GetStatus"} {
		resp := handle(t, h, `{"command":"`+name+`"}`)
		assert.True(t, resp.Get("success").Bool(), name)
		assert.True(t, resp.Get("running").Bool())
		assert.Equal(t, 58.5, resp.Get("current_fps").Float())
		assert.Equal(t, int64(60), resp.Get("current_hz").Int())
		assert.Equal(t, "stable", resp.Get("state").String())
		assert.Equal(t, "oled", resp.Get("device_mode").String())
		assert.Equal(t, int64(90), resp.Get("config.max_hz").Int())
		assert.Equal(t, "dropped", resp.Get("transitions.0.direction").String())
		assert.True(t, resp.Get("mangohud_available").Exists())
		assert.True(t, resp.Get("resume_cooldown_remaining").Exists())
	}
}

func TestStartStopAliases(t *testing.T) {
	ctrl := newFakeController()
	h := ipc.NewHandler(ctrl)

	assert.True(t, handle(t, h, `{"command":"Stop"}`).Get("success").Bool())
	assert.False(t, ctrl.Status().Running)

	assert.True(t, handle(t, h, `{"command":"start_daemon"}`).Get("success").Bool())
	assert.True(t, ctrl.Status().Running)

	assert.True(t, handle(t, h, `{"command":"stop_daemon"}`).Get("success").Bool())
	assert.False(t, ctrl.Status().Running)
}

func TestSetConfigAlias(t *testing.T) {
	ctrl := newFakeController()
	h := ipc.NewHandler(ctrl)

	resp := handle(t, h, `{"command":"SetConfig","min_hz":30,"max_hz":85,"sensitivity":"aggressive"}`)
	require.True(t, resp.Get("success").Bool(), resp.Raw)
	assert.Equal(t, int64(45), resp.Get("config.min_hz").Int())
	assert.Equal(t, int64(85), resp.Get("config.max_hz").Int())
	assert.Equal(t, "min_hz", resp.Get("adjustments.0.field").String())

	require.NotNil(t, ctrl.settings.Sensitivity)
	assert.Equal(t, "aggressive", *ctrl.settings.Sensitivity)
	assert.Nil(t, ctrl.settings.AdaptiveSensitivity)
}

func TestSetSettingsValidation(t *testing.T) {
	h := ipc.NewHandler(newFakeController())

	tests := []struct {
		name string
		req  string
		code errors.ErrorCode
	}{
		{"non-integer", `{"command":"set_settings","min_hz":"low"}`, errors.ErrInvalidRequest},
		{"fraction", `{"command":"set_settings","min_hz":45.5}`, errors.ErrInvalidRequest},
		{"bad bool", `{"command":"set_settings","adaptive_sensitivity":"yes"}`, errors.ErrInvalidRequest},
		{"unknown sensitivity", `{"command":"set_settings","sensitivity":"turbo"}`, errors.ErrConfigRejected},
		{"unknown mode", `{"command":"set_device_mode","mode":"crt"}`, errors.ErrConfigRejected},
		{"missing mode", `{"command":"set_device_mode"}`, errors.ErrInvalidRequest},
		{"unknown command", `{"command":"reboot"}`, errors.ErrUnknownCommand},
		{"missing command", `{"min_hz":40}`, errors.ErrInvalidRequest},
		{"malformed", `{"command":`, errors.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, h, tt.req)
			assert.False(t, resp.Get("success").Bool())
			assert.NotEmpty(t, resp.Get("error").String())
			assert.Equal(t, string(tt.code), resp.Get("code").String())
		})
	}
}

func TestSetDeviceMode(t *testing.T) {
	ctrl := newFakeController()
	h := ipc.NewHandler(ctrl)

	resp := handle(t, h, `{"command":"SetDeviceMode","mode":"lcd"}`)
	require.True(t, resp.Get("success").Bool(), resp.Raw)
	assert.Equal(t, int64(60), resp.Get("config.max_hz").Int())
	assert.Equal(t, "conservative", resp.Get("config.sensitivity").String())
	assert.Equal(t, "lcd", ctrl.mode)
}

func TestSetAdvancedConfig(t *testing.T) {
	ctrl := newFakeController()
	h := ipc.NewHandler(ctrl)

	resp := handle(t, h, `{"command":"set_advanced_config","fps_tolerance":50,"sync_frame_limiter":true}`)
	require.True(t, resp.Get("success").Bool(), resp.Raw)
	assert.Equal(t, 20.0, resp.Get("fps_tolerance").Float())
	assert.Equal(t, "fps_tolerance", resp.Get("adjustments.0.field").String())

	require.NotNil(t, ctrl.advanced.SyncFrameLimiter)
	assert.True(t, *ctrl.advanced.SyncFrameLimiter)
	assert.Nil(t, ctrl.advanced.ResumeCooldownSecs)
}

func TestReadOnlyCommands(t *testing.T) {
	h := ipc.NewHandler(newFakeController())

	metrics := handle(t, h, `{"command":"get_metrics"}`)
	assert.Equal(t, int64(3), metrics.Get("total_switches").Int())
	assert.Equal(t, int64(2), metrics.Get("drop_count").Int())

	bat := handle(t, h, `{"command":"get_battery_status"}`)
	assert.True(t, bat.Get("available").Bool())
	assert.Equal(t, 12.0, bat.Get("estimated_savings_minutes").Float())

	profiles := handle(t, h, `{"command":"get_profiles"}`)
	assert.Equal(t, "Game", profiles.Get("profiles.0.name").String())
	assert.Equal(t, "1", profiles.Get("current_app_id").String())
	assert.Equal(t, int64(40), profiles.Get("global_default.min_hz").Int())
}

func TestProfileCommands(t *testing.T) {
	ctrl := newFakeController()
	h := ipc.NewHandler(ctrl)

	resp := handle(t, h, `{"command":"save_profile","app_id":1245620,"name":"Elden Ring","config":{"min_hz":60,"max_hz":60}}`)
	require.True(t, resp.Get("success").Bool(), resp.Raw)
	assert.Equal(t, "1245620", resp.Get("profile.app_id").String())
	assert.Equal(t, int64(60), resp.Get("profile.min_hz").Int())

	resp = handle(t, h, `{"command":"set_game_id","app_id":"1245620","name":"Elden Ring"}`)
	assert.True(t, resp.Get("profile_found").Bool())
	assert.Equal(t, "1245620", ctrl.gameID)

	resp = handle(t, h, `{"command":"save_profile","name":"No ID"}`)
	assert.False(t, resp.Get("success").Bool())

	resp = handle(t, h, `{"command":"delete_profile","app_id":"1245620"}`)
	assert.True(t, resp.Get("success").Bool())

	resp = handle(t, h, `{"command":"delete_profile","app_id":"1245620"}`)
	assert.False(t, resp.Get("success").Bool())
	assert.Equal(t, string(errors.ErrProfileNotFound), resp.Get("code").String())
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "srd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func TestServerRoundTrip(t *testing.T) {
	path := socketPath(t)
	ctrl := newFakeController()

	srv, err := ipc.Listen(path, ctrl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client := ipc.NewClient(path, time.Second)

	out, err := client.Call(ctx, "get_status", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(60), gjson.GetBytes(out, "current_hz").Int())

	_, err = client.Call(ctx, "set_device_mode", map[string]any{"mode": "oled"})
	require.NoError(t, err)
	assert.Equal(t, "oled", ctrl.mode)

	out, err = client.Call(ctx, "set_device_mode", map[string]any{"mode": "crt"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ipc.ErrCommandFailed))
	assert.False(t, gjson.GetBytes(out, "success").Bool())

	cancel()
	require.NoError(t, <-done)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServerHandlesMultipleLinesPerConnection(t *testing.T) {
	path := socketPath(t)
	srv, err := ipc.Listen(path, newFakeController())
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve(context.Background())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{\"command\":\"get_metrics\"}\n\n{\"command\":\"GetStatus\"}\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	lines := readLines(t, conn, 2)
	assert.Equal(t, int64(3), gjson.Get(lines[0], "total_switches").Int())
	assert.Equal(t, int64(60), gjson.Get(lines[1], "current_hz").Int())
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	// Leave the file behind the way a crashed daemon would.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	srv, err := ipc.Listen(path, newFakeController())
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	_, err := ipc.Listen(path, newFakeController())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ipc.ErrSocketBind))
}

func TestClientDialFailure(t *testing.T) {
	client := ipc.NewClient(filepath.Join(t.TempDir(), "missing.sock"), 100*time.Millisecond)

	_, err := client.Call(context.Background(), "get_status", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ipc.ErrDial))
}
