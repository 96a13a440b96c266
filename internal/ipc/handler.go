package ipc

import (
	"context"

	"codeberg.org/mutker/smartrefresh/internal/daemon"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"github.com/tidwall/gjson"
)

// Handler turns one request line into one response value.
type Handler struct {
	ctrl Controller
	log  logger.Logger
}

func NewHandler(ctrl Controller) *Handler {
	return &Handler{ctrl: ctrl, log: logger.Component("ipc")}
}

func (h *Handler) Handle(ctx context.Context, line []byte) any {
	errFactory := errors.New()

	if !gjson.ValidBytes(line) {
		return fail(errFactory.WithMessage(ErrInvalidRequest, "request is not valid JSON"))
	}
	req := gjson.ParseBytes(line)

	name := req.Get("command")
	if name.Type != gjson.String || name.String() == "" {
		return fail(errFactory.WithMessage(ErrInvalidRequest, "missing command"))
	}

	resp, err := h.dispatch(ctx, Canonical(name.String()), req)
	if err != nil {
		h.log.Warn().Err(err).Str("command", name.String()).Msg("Command failed")
		return fail(err)
	}

	return resp
}

func (h *Handler) dispatch(ctx context.Context, cmd string, req gjson.Result) (any, error) {
	switch cmd {
	case CmdGetStatus:
		return statusResponse{Success: true, Status: h.ctrl.Status()}, nil

	case CmdStartDaemon:
		h.ctrl.Start(ctx)
		return message{Success: true, Message: "Daemon started"}, nil

	case CmdStopDaemon:
		h.ctrl.Stop(ctx)
		return message{Success: true, Message: "Daemon stopped"}, nil

	case CmdSetSettings:
		u, err := settingsUpdate(req)
		if err != nil {
			return nil, err
		}
		cfg, adj, err := h.ctrl.SetSettings(ctx, u)
		if err != nil {
			return nil, err
		}
		return settingsResponse{Success: true, Config: cfg, Adjustments: adjustments(adj)}, nil

	case CmdSetDeviceMode:
		mode, err := stringParam(req, "mode", true)
		if err != nil {
			return nil, err
		}
		cfg, adj, err := h.ctrl.SetDeviceMode(ctx, *mode)
		if err != nil {
			return nil, err
		}
		status := h.ctrl.Status()
		return settingsResponse{Success: true, Mode: status.DeviceMode, Config: cfg, Adjustments: adjustments(adj)}, nil

	case CmdSetAdvanced:
		u, err := advancedUpdate(req)
		if err != nil {
			return nil, err
		}
		adv, adj := h.ctrl.SetAdvanced(ctx, u)
		return advancedResponse{Success: true, Advanced: adv, Adjustments: adjustments(adj)}, nil

	case CmdGetMetrics:
		return metricsResponse{Success: true, Metrics: h.ctrl.Metrics()}, nil

	case CmdGetBattery:
		return batteryResponse{Success: true, State: h.ctrl.Battery()}, nil

	case CmdGetProfiles:
		return profilesResponse{Success: true, Profiles: h.ctrl.Profiles()}, nil

	case CmdSaveProfile:
		appID, err := stringParam(req, "app_id", true)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(req, "name", false)
		if err != nil {
			return nil, err
		}
		cfg := req.Get("config")
		if !cfg.Exists() {
			cfg = req
		}
		u, err := settingsUpdate(cfg)
		if err != nil {
			return nil, err
		}
		p, err := h.ctrl.SaveProfile(ctx, *appID, deref(name), u)
		if err != nil {
			return nil, err
		}
		return profileResponse{Success: true, Profile: p}, nil

	case CmdDeleteProfile:
		appID, err := stringParam(req, "app_id", true)
		if err != nil {
			return nil, err
		}
		if err := h.ctrl.DeleteProfile(ctx, *appID); err != nil {
			return nil, err
		}
		return message{Success: true, Message: "Profile deleted"}, nil

	case CmdSetGameID:
		appID, err := stringParam(req, "app_id", false)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(req, "name", false)
		if err != nil {
			return nil, err
		}
		cfg, found := h.ctrl.SetGameID(deref(appID), deref(name))
		return gameResponse{Success: true, AppID: deref(appID), ProfileFound: found, Config: cfg}, nil
	}

	return nil, errors.New().WithData(ErrUnknownCommand, cmd)
}

func settingsUpdate(req gjson.Result) (daemon.SettingsUpdate, error) {
	var (
		u   daemon.SettingsUpdate
		err error
	)
	if u.MinHz, err = intParam(req, "min_hz"); err != nil {
		return u, err
	}
	if u.MaxHz, err = intParam(req, "max_hz"); err != nil {
		return u, err
	}
	if u.Sensitivity, err = stringParam(req, "sensitivity", false); err != nil {
		return u, err
	}
	if u.AdaptiveSensitivity, err = boolParam(req, "adaptive_sensitivity"); err != nil {
		return u, err
	}
	return u, nil
}

func advancedUpdate(req gjson.Result) (daemon.AdvancedUpdate, error) {
	var (
		u   daemon.AdvancedUpdate
		err error
	)
	if u.FPSTolerance, err = floatParam(req, "fps_tolerance"); err != nil {
		return u, err
	}
	if u.ResumeCooldownSecs, err = floatParam(req, "resume_cooldown_secs"); err != nil {
		return u, err
	}
	if u.SyncFrameLimiter, err = boolParam(req, "sync_frame_limiter"); err != nil {
		return u, err
	}
	return u, nil
}

func param(req gjson.Result, key string) (gjson.Result, bool) {
	r := req.Get(key)
	return r, r.Exists() && r.Type != gjson.Null
}

func invalid(key, want string) error {
	return errors.New().WithData(ErrInvalidRequest, key+" must be "+want)
}

func intParam(req gjson.Result, key string) (*int, error) {
	r, ok := param(req, key)
	if !ok {
		return nil, nil
	}
	if r.Type != gjson.Number || r.Num != float64(int(r.Num)) {
		return nil, invalid(key, "an integer")
	}
	v := int(r.Num)
	return &v, nil
}

func floatParam(req gjson.Result, key string) (*float64, error) {
	r, ok := param(req, key)
	if !ok {
		return nil, nil
	}
	if r.Type != gjson.Number {
		return nil, invalid(key, "a number")
	}
	v := r.Num
	return &v, nil
}

func boolParam(req gjson.Result, key string) (*bool, error) {
	r, ok := param(req, key)
	if !ok {
		return nil, nil
	}
	if r.Type != gjson.True && r.Type != gjson.False {
		return nil, invalid(key, "a boolean")
	}
	v := r.Bool()
	return &v, nil
}

// stringParam also accepts numbers, since Steam app IDs are often sent as
// integers.
func stringParam(req gjson.Result, key string, required bool) (*string, error) {
	r, ok := param(req, key)
	if !ok {
		if required {
			return nil, errors.New().WithData(ErrInvalidRequest, key+" is required")
		}
		return nil, nil
	}
	if r.Type != gjson.String && r.Type != gjson.Number {
		return nil, invalid(key, "a string")
	}
	v := r.String()
	return &v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
