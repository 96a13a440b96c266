package policy

import "time"

// Delays is how long a divergence must persist before the controller acts.
type Delays struct {
	Drop     time.Duration
	Increase time.Duration
}

var presets = map[Sensitivity]Delays{
	Conservative: {Drop: 2 * time.Second, Increase: 5 * time.Second},
	Balanced:     {Drop: time.Second, Increase: 3 * time.Second},
	Aggressive:   {Drop: 500 * time.Millisecond, Increase: 1500 * time.Millisecond},
}

// Preset returns the delays of s, falling back to Balanced.
func Preset(s Sensitivity) Delays {
	if d, ok := presets[s]; ok {
		return d
	}
	return presets[Balanced]
}

// Calibration bounds the frame-rate standard deviation range that adaptive
// sensitivity maps onto the presets.
type Calibration struct {
	LowStdDev  float64
	HighStdDev float64
}

func DefaultCalibration() Calibration {
	return Calibration{LowStdDev: 2.0, HighStdDev: 8.0}
}

// Interpolate maps stdDev onto aggressive (steady) through balanced to
// conservative (noisy).
func Interpolate(stdDev float64, c Calibration) Delays {
	if stdDev <= c.LowStdDev {
		return presets[Aggressive]
	}
	if stdDev >= c.HighStdDev {
		return presets[Conservative]
	}

	t := (stdDev - c.LowStdDev) / (c.HighStdDev - c.LowStdDev)
	if t <= 0.5 {
		return lerp(presets[Aggressive], presets[Balanced], t*2)
	}
	return lerp(presets[Balanced], presets[Conservative], (t-0.5)*2)
}

// EffectiveDelays resolves the delays the controller should use this tick.
func EffectiveDelays(mode DeviceMode, s Settings, stdDev float64, c Calibration) Delays {
	if forced := RulesFor(mode).ForcedSensitivity; forced != "" {
		return Preset(forced)
	}
	if s.AdaptiveSensitivity {
		return Interpolate(stdDev, c)
	}
	return Preset(s.Sensitivity)
}

func lerp(a, b Delays, t float64) Delays {
	mix := func(x, y time.Duration) time.Duration {
		return x + time.Duration(float64(y-x)*t)
	}
	return Delays{Drop: mix(a.Drop, b.Drop), Increase: mix(a.Increase, b.Increase)}
}
