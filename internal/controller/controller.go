// Package controller decides when the display refresh rate should follow
// the measured frame rate. It owns no I/O: the caller feeds it one Input per
// tick, applies any Decision it returns and reports success with Accept.
package controller

import (
	"math"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/policy"
)

// Params are the effective limits for one tick, already resolved through
// the device policy and the active profile.
type Params struct {
	MinHz       int
	MaxHz       int
	Delays      policy.Delays
	MinInterval time.Duration
	Tolerance   float64
}

type Input struct {
	Now             time.Time
	FPS             float64
	FPSAvailable    bool
	Enabled         bool
	ExternalDisplay bool
}

type Decision struct {
	FromHz    int
	ToHz      int
	FPS       float64
	Direction Direction
}

type Controller struct {
	state         State
	currentHz     int
	pendingSince  time.Time
	pendingTarget int
	lastChange    time.Time
	holdUntil     time.Time
}

// New returns a controller that believes the display runs at currentHz.
func New(currentHz int) *Controller {
	return &Controller{state: Disabled, currentHz: currentHz}
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) CurrentHz() int {
	return c.currentHz
}

// PendingTarget is the rate a pending state is heading to, 0 otherwise.
func (c *Controller) PendingTarget() int {
	if c.state == PendingDrop || c.state == PendingIncrease {
		return c.pendingTarget
	}
	return 0
}

// CooldownRemaining is how long decisions stay held after a resume.
func (c *Controller) CooldownRemaining(now time.Time) time.Duration {
	if now.Before(c.holdUntil) {
		return c.holdUntil.Sub(now)
	}
	return 0
}

// Step advances the state machine by one tick. It returns a decision when
// the display should change; the controller's current rate only moves once
// the caller confirms the change with Accept.
func (c *Controller) Step(in Input, p Params) (Decision, bool) {
	if !in.Enabled {
		c.enter(Disabled)
		return Decision{}, false
	}
	if in.ExternalDisplay {
		c.enter(Paused)
		return Decision{}, false
	}
	if c.state == Disabled || c.state == Paused {
		c.enter(Stable)
	}
	if in.Now.Before(c.holdUntil) {
		c.enter(Stable)
		return Decision{}, false
	}

	if c.currentHz < p.MinHz || c.currentHz > p.MaxHz {
		target := policy.Clamp(c.currentHz, p.MinHz, p.MaxHz)
		if !c.gateOpen(in.Now, p) {
			return Decision{}, false
		}
		return c.decide(target, in.FPS), true
	}

	if !in.FPSAvailable {
		c.enter(Stable)
		return Decision{}, false
	}

	target := policy.Clamp(policy.Quantize(in.FPS), p.MinHz, p.MaxHz)
	if c.withinBand(in.FPS, target, p.Tolerance) {
		c.enter(Stable)
		return Decision{}, false
	}

	want, delay := PendingIncrease, p.Delays.Increase
	if target < c.currentHz {
		want, delay = PendingDrop, p.Delays.Drop
	}
	if c.state != want {
		c.state = want
		c.pendingSince = in.Now
	}
	c.pendingTarget = target

	if in.Now.Sub(c.pendingSince) < delay || !c.gateOpen(in.Now, p) {
		return Decision{}, false
	}

	return c.decide(target, in.FPS), true
}

// Accept commits a decision the display driver applied successfully.
func (c *Controller) Accept(d Decision, now time.Time) {
	c.currentHz = d.ToHz
	c.lastChange = now
	c.enter(Stable)
}

// SetCurrentHz records a rate applied outside the state machine, such as
// the startup apply.
func (c *Controller) SetCurrentHz(hz int, now time.Time) {
	c.currentHz = hz
	c.lastChange = now
}

// Resume discards everything measured before a suspend and holds decisions
// for cooldown.
func (c *Controller) Resume(now time.Time, cooldown time.Duration) {
	if c.state != Disabled && c.state != Paused {
		c.enter(Stable)
	}
	c.lastChange = time.Time{}
	c.holdUntil = now.Add(cooldown)
}

// Reset drops pending timers after a configuration change.
func (c *Controller) Reset() {
	if c.state == PendingDrop || c.state == PendingIncrease {
		c.enter(Stable)
	}
}

func (c *Controller) decide(target int, fps float64) Decision {
	dir := Increased
	if target < c.currentHz {
		dir = Dropped
	}
	return Decision{FromHz: c.currentHz, ToHz: target, FPS: fps, Direction: dir}
}

// withinBand reports whether either the raw frame rate or its quantized
// target sits inside the sticky band around the current rate.
func (c *Controller) withinBand(fps float64, target int, tol float64) bool {
	cur := float64(c.currentHz)
	return math.Abs(fps-cur) <= tol || math.Abs(float64(target)-cur) <= tol
}

func (c *Controller) gateOpen(now time.Time, p Params) bool {
	return c.lastChange.IsZero() || now.Sub(c.lastChange) >= p.MinInterval
}

func (c *Controller) enter(s State) {
	c.state = s
	c.pendingSince = time.Time{}
	c.pendingTarget = 0
}
