// Package display talks to the compositor and the kernel about the panel:
// it applies refresh rates, detects external monitors and notices resumes
// from suspend.
package display

import "context"

// Driver changes the internal panel's refresh rate.
type Driver interface {
	Apply(ctx context.Context, hz int) error
	// ApplyFrameLimit caps the game's frame rate at hz; 0 removes the cap.
	ApplyFrameLimit(ctx context.Context, hz int) error
	Current() int
}

// MonitorDetector reports whether an external display is connected.
type MonitorDetector interface {
	ExternalDisplay() bool
}

// ResumeDetector reports whether the system slept since the last call.
type ResumeDetector interface {
	Resumed() bool
}

// CommandRunner executes an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}
