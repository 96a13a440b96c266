package policy

import (
	"math"
	"time"
)

const (
	maxFPSTolerance   = 20.0
	maxResumeCooldown = 30.0
)

// Advanced holds the tuning knobs exposed next to the regular settings.
type Advanced struct {
	FPSTolerance       float64 `json:"fps_tolerance"`
	ResumeCooldownSecs float64 `json:"resume_cooldown_secs"`
	SyncFrameLimiter   bool    `json:"sync_frame_limiter"`
}

func DefaultAdvanced() Advanced {
	return Advanced{FPSTolerance: 3, ResumeCooldownSecs: 2}
}

// Normalize clamps the numeric fields into their supported ranges.
func (a Advanced) Normalize() (Advanced, []Adjustment) {
	out := a
	var adj []Adjustment

	if v := clampFloat(out.FPSTolerance, 0, maxFPSTolerance); v != out.FPSTolerance {
		adj = append(adj, Adjustment{Field: "fps_tolerance", Requested: out.FPSTolerance, Applied: v, Reason: "outside supported range"})
		out.FPSTolerance = v
	}
	if v := clampFloat(out.ResumeCooldownSecs, 0, maxResumeCooldown); v != out.ResumeCooldownSecs {
		adj = append(adj, Adjustment{Field: "resume_cooldown_secs", Requested: out.ResumeCooldownSecs, Applied: v, Reason: "outside supported range"})
		out.ResumeCooldownSecs = v
	}

	return out, adj
}

func (a Advanced) ResumeCooldown() time.Duration {
	return time.Duration(a.ResumeCooldownSecs * float64(time.Second))
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
