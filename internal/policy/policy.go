// Package policy holds the per-device refresh rules and the sensitivity
// presets that drive the rate controller.
package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
)

const (
	// Step is the refresh-rate grid every target lands on.
	Step = 5

	HardwareMinHz = 40
	HardwareMaxHz = 90
)

type Sensitivity string

const (
	Conservative Sensitivity = "conservative"
	Balanced     Sensitivity = "balanced"
	Aggressive   Sensitivity = "aggressive"
)

func (s Sensitivity) Valid() bool {
	switch s {
	case Conservative, Balanced, Aggressive:
		return true
	default:
		return false
	}
}

// ParseSensitivity accepts the preset names case-insensitively.
func ParseSensitivity(name string) (Sensitivity, error) {
	s := Sensitivity(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", errors.New().WithData(errors.ErrConfigRejected, fmt.Sprintf("unknown sensitivity %q", name))
	}

	return s, nil
}

type DeviceMode string

const (
	OLED   DeviceMode = "oled"
	LCD    DeviceMode = "lcd"
	Custom DeviceMode = "custom"
)

func (m DeviceMode) Valid() bool {
	switch m {
	case OLED, LCD, Custom:
		return true
	default:
		return false
	}
}

// ParseDeviceMode accepts the mode names case-insensitively.
func ParseDeviceMode(name string) (DeviceMode, error) {
	m := DeviceMode(strings.ToLower(strings.TrimSpace(name)))
	if !m.Valid() {
		return "", errors.New().WithData(errors.ErrConfigRejected, fmt.Sprintf("unknown device mode %q", name))
	}

	return m, nil
}

// Rules are the hardware constraints of a device mode.
type Rules struct {
	MinHz             int
	MaxHz             int
	MinChangeInterval time.Duration
	// ForcedSensitivity overrides the user preset when set.
	ForcedSensitivity Sensitivity
}

func RulesFor(mode DeviceMode) Rules {
	switch mode {
	case OLED:
		return Rules{MinHz: 45, MaxHz: 90, MinChangeInterval: 500 * time.Millisecond}
	case LCD:
		return Rules{MinHz: 40, MaxHz: 60, MinChangeInterval: 2 * time.Second, ForcedSensitivity: Conservative}
	default:
		return Rules{MinHz: HardwareMinHz, MaxHz: HardwareMaxHz, MinChangeInterval: 500 * time.Millisecond}
	}
}

// Settings is the user-facing controller configuration.
type Settings struct {
	MinHz               int         `json:"min_hz"`
	MaxHz               int         `json:"max_hz"`
	Sensitivity         Sensitivity `json:"sensitivity"`
	Enabled             bool        `json:"enabled"`
	AdaptiveSensitivity bool        `json:"adaptive_sensitivity"`
}

func DefaultSettings() Settings {
	return Settings{
		MinHz:       HardwareMinHz,
		MaxHz:       HardwareMaxHz,
		Sensitivity: Balanced,
		Enabled:     true,
	}
}

// Adjustment reports one change Apply made to requested settings.
type Adjustment struct {
	Field     string `json:"field"`
	Requested any    `json:"requested"`
	Applied   any    `json:"applied"`
	Reason    string `json:"reason"`
}

// Apply clamps s into the rules of mode and reports every change. It is
// pure and idempotent: Apply(mode, Apply(mode, s)) makes no adjustments.
func Apply(mode DeviceMode, s Settings) (Settings, []Adjustment) {
	r := RulesFor(mode)
	out := s
	var adj []Adjustment

	set := func(field string, from, to int, reason string) int {
		if from != to {
			adj = append(adj, Adjustment{Field: field, Requested: from, Applied: to, Reason: reason})
		}
		return to
	}

	out.MinHz = set("min_hz", out.MinHz, Clamp(out.MinHz, r.MinHz, r.MaxHz), "outside device range")
	out.MaxHz = set("max_hz", out.MaxHz, Clamp(out.MaxHz, r.MinHz, r.MaxHz), "outside device range")
	out.MinHz = set("min_hz", out.MinHz, roundUp(out.MinHz), "snapped to 5 Hz step")
	out.MaxHz = set("max_hz", out.MaxHz, roundDown(out.MaxHz), "snapped to 5 Hz step")

	if out.MinHz > out.MaxHz {
		adj = append(adj,
			Adjustment{Field: "min_hz", Requested: out.MinHz, Applied: out.MaxHz, Reason: "above max_hz, swapped"},
			Adjustment{Field: "max_hz", Requested: out.MaxHz, Applied: out.MinHz, Reason: "below min_hz, swapped"},
		)
		out.MinHz, out.MaxHz = out.MaxHz, out.MinHz
	}

	if !out.Sensitivity.Valid() {
		adj = append(adj, Adjustment{Field: "sensitivity", Requested: out.Sensitivity, Applied: Balanced, Reason: "unknown preset"})
		out.Sensitivity = Balanced
	}
	if r.ForcedSensitivity != "" && out.Sensitivity != r.ForcedSensitivity {
		adj = append(adj, Adjustment{
			Field:     "sensitivity",
			Requested: out.Sensitivity,
			Applied:   r.ForcedSensitivity,
			Reason:    fmt.Sprintf("forced by %s mode", mode),
		})
		out.Sensitivity = r.ForcedSensitivity
	}

	return out, adj
}

// Quantize rounds fps to the nearest Step.
func Quantize(fps float64) int {
	return int(math.Round(fps/Step)) * Step
}

func Clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}

func roundUp(hz int) int {
	if rem := hz % Step; rem != 0 {
		return hz + Step - rem
	}
	return hz
}

func roundDown(hz int) int {
	return hz - hz%Step
}
