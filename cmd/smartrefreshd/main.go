package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/battery"
	"codeberg.org/mutker/smartrefresh/internal/config"
	"codeberg.org/mutker/smartrefresh/internal/daemon"
	"codeberg.org/mutker/smartrefresh/internal/display"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/ipc"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"codeberg.org/mutker/smartrefresh/internal/pid"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
	"codeberg.org/mutker/smartrefresh/internal/sampler"
	"codeberg.org/mutker/smartrefresh/internal/store"
	"codeberg.org/mutker/smartrefresh/internal/telemetry"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "smartrefreshd",
	Short:        "Match the display refresh rate to the game's frame rate",
	SilenceUsage: true,
	RunE:         runDaemon,
}

var ctlCmd = &cobra.Command{
	Use:   "ctl <command> [json-params]",
	Short: "Send a control command to the running daemon",
	Example: `  smartrefreshd ctl get_status
  smartrefreshd ctl set_settings '{"min_hz":45,"max_hz":90,"sensitivity":"balanced"}'`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE:         runCtl,
}

var ctlTimeout time.Duration

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	ctlCmd.Flags().DurationVar(&ctlTimeout, "timeout", ipc.DefaultClientTimeout, "How long to wait for the daemon")
	rootCmd.AddCommand(ctlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	store     *store.Store
	source    *sampler.MangoHud
	telemetry telemetry.Collector
	daemon    *daemon.Daemon
	server    *ipc.Server
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	cfg.ApplyLogLevel()
	logger.Debug().Str("socket", cfg.Socket).Str("database", cfg.Database).Msg("Config loaded")

	if cfg.Watch(func(next *config.Config) { next.ApplyLogLevel() }) {
		logger.Debug().Msg("Watching config file for changes")
	}

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Str("pid_file", cfg.PIDFile).Msg("Failed to acquire PID file")
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a, err := newApp(ctx, cfg)
	if err != nil {
		wrapped := errors.New().Wrap(errors.ErrInitApp, err)
		logger.ErrorWithCode(wrapped).Msg("Failed to start")
		return wrapped
	}
	defer a.cleanup()

	return a.run(ctx)
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.cleanup()
		}
	}()

	storeCfg := store.DefaultConfig(cfg.Database)
	storeCfg.History = cfg.History
	storeCfg.Retention = cfg.HistoryRetention
	storeCfg.Maintenance = cfg.Maintenance
	if a.store, err = store.Open(storeCfg, logger.Component("store")); err != nil {
		return a, err
	}

	saved, found, err := a.store.LoadState(ctx)
	if err != nil {
		return a, err
	}
	var initial *store.State
	if found {
		initial = &saved
	} else {
		logger.Info().Msg("No saved state, starting with defaults")
	}

	recent, err := a.store.RecentTransitions(ctx, history.DefaultCapacity)
	if err != nil {
		return a, err
	}

	profiles, err := profile.NewManager(ctx, a.store)
	if err != nil {
		return a, err
	}

	if a.telemetry, err = telemetry.NewService(telemetry.Config{Listen: cfg.MetricsListen}); err != nil {
		return a, err
	}

	a.source = sampler.NewMangoHud(cfg.MangoHudPath, cfg.StaleTimeout, cfg.ReconnectInterval)

	a.daemon, err = daemon.New(daemon.Deps{
		Source:    a.source,
		Driver:    display.NewGamescope(cfg.RefreshCommand, cfg.FrameLimitCommand, nil),
		Monitors:  display.NewDRM(cfg.DRMPath),
		Resume:    display.NewSuspendDetector(cfg.ResumeThreshold, nil),
		Profiles:  profiles,
		Battery:   battery.NewEstimator(battery.NewSysfs(cfg.PowerSupplyPath)),
		Store:     a.store,
		Telemetry: a.telemetry,
	}, daemon.Options{
		Interval:     cfg.Interval,
		ApplyTimeout: cfg.ApplyTimeout,
		Calibration:  policy.Calibration{LowStdDev: cfg.StdDevLow, HighStdDev: cfg.StdDevHigh},
		Initial:      initial,
		History:      recent,
	})
	if err != nil {
		return a, err
	}

	if a.server, err = ipc.Listen(cfg.Socket, a.daemon); err != nil {
		return a, err
	}

	return a, nil
}

func (a *app) run(ctx context.Context) error {
	go func() {
		if err := a.server.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("Control socket stopped")
		}
	}()

	if err := a.daemon.Run(ctx); err != nil {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// cleanup stops the control surface before the store so no command can
// write after the final flush.
func (a *app) cleanup() {
	if a.server != nil {
		if err := a.server.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close control socket")
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop telemetry")
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to release frame rate source")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close state store")
		}
	}
	logger.Info().Msg("Exiting...")
}

func runCtl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	params := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("parameters must be a JSON object: %w", err)
		}
	}

	out, callErr := ipc.NewClient(cfg.Socket, ctlTimeout).Call(cmd.Context(), args[0], params)
	if len(out) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, out, "", "  "); err == nil {
			out = append(pretty.Bytes(), '\n')
		}
		cmd.OutOrStdout().Write(out)
	}

	return callErr
}
