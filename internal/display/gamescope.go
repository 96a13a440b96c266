package display

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
)

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Gamescope applies refresh rates through gamescope-cmd and frame limits
// through the GAMESCOPE_FPS_LIMIT root window property.
type Gamescope struct {
	refreshCmd    string
	frameLimitCmd string
	runner        CommandRunner
	log           logger.Logger

	mu         sync.Mutex
	current    int
	frameLimit int
}

// NewGamescope returns a driver using refreshCmd (gamescope-cmd) and
// frameLimitCmd (xprop). A nil runner uses os/exec.
func NewGamescope(refreshCmd, frameLimitCmd string, runner CommandRunner) *Gamescope {
	if runner == nil {
		runner = execRunner{}
	}
	return &Gamescope{
		refreshCmd:    refreshCmd,
		frameLimitCmd: frameLimitCmd,
		runner:        runner,
		log:           logger.Component("display"),
	}
}

// Apply sets the refresh rate. Re-applying the active rate is a no-op.
func (g *Gamescope) Apply(ctx context.Context, hz int) error {
	errFactory := errors.New()

	if hz <= 0 {
		return errFactory.WithData(ErrInvalidRate, hz)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == hz {
		return nil
	}

	if err := g.run(ctx, g.refreshCmd, "-r", strconv.Itoa(hz)); err != nil {
		return err
	}

	g.log.Info().Int("from_hz", g.current).Int("to_hz", hz).Msg("Refresh rate applied")
	g.current = hz

	return nil
}

func (g *Gamescope) ApplyFrameLimit(ctx context.Context, hz int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frameLimit == hz {
		return nil
	}

	args := []string{"-root", "-f", "GAMESCOPE_FPS_LIMIT", "32c", "-set", "GAMESCOPE_FPS_LIMIT", strconv.Itoa(hz)}
	if hz == 0 {
		args = []string{"-root", "-remove", "GAMESCOPE_FPS_LIMIT"}
	}
	if err := g.run(ctx, g.frameLimitCmd, args...); err != nil {
		return err
	}

	g.log.Debug().Int("fps_limit", hz).Msg("Frame limit applied")
	g.frameLimit = hz

	return nil
}

func (g *Gamescope) Current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *Gamescope) run(ctx context.Context, name string, args ...string) error {
	errFactory := errors.New()

	out, err := g.runner.Run(ctx, name, args...)
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return errFactory.WithData(ErrCommandNotFound, name)
	}
	if ctx.Err() != nil {
		return errFactory.Wrap(ErrApplyFailed, ctx.Err())
	}

	return errFactory.Wrap(ErrApplyFailed,
		fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out))))
}
