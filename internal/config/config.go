package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval          = 100 * time.Millisecond
	DefaultLogLevel          = string(LogLevelInfo)
	DefaultSocket            = "/tmp/smart-refresh.sock"
	DefaultMangoHudPath      = "/dev/shm/mangohud-overlay"
	DefaultStaleTimeout      = 3 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultDRMPath           = "/sys/class/drm"
	DefaultPowerSupplyPath   = "/sys/class/power_supply"
	DefaultRefreshCommand    = "gamescope-cmd"
	DefaultFrameLimitCommand = "xprop"
	DefaultApplyTimeout      = 250 * time.Millisecond
	DefaultResumeThreshold   = time.Second
	DefaultStdDevLow         = 2.0
	DefaultStdDevHigh        = 8.0
	DefaultHistoryRetention  = 7 * 24 * time.Hour
	DefaultMaintenance       = "@every 1h"

	envPrefix  = "SMARTREFRESH"
	envConfig  = "SMARTREFRESH_CONFIG"
	configName = "smartrefresh"
)

type Config struct {
	Interval          time.Duration
	LogLevel          string
	Debug             bool
	Verbose           bool
	Socket            string
	Database          string
	PIDFile           string
	History           bool
	HistoryRetention  time.Duration
	Maintenance       string
	MetricsListen     string
	MangoHudPath      string
	StaleTimeout      time.Duration
	ReconnectInterval time.Duration
	DRMPath           string
	PowerSupplyPath   string
	RefreshCommand    string
	FrameLimitCommand string
	ApplyTimeout      time.Duration
	ResumeThreshold   time.Duration
	StdDevLow         float64
	StdDevHigh        float64

	v *viper.Viper
}

// RegisterFlags adds the daemon's command line flags to fs. Flag names use
// dashes; the matching configuration keys use underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Duration("interval", DefaultInterval, "Interval between control ticks")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("socket", DefaultSocket, "Control socket path")
	fs.String("database", defaultDatabase(), "State database path")
	fs.String("pid-file", filepath.Join(os.TempDir(), "smartrefreshd.pid"), "PID file path")
	fs.Bool("history", true, "Persist transition history")
	fs.Duration("history-retention", DefaultHistoryRetention, "How long persisted transitions are kept")
	fs.String("metrics-listen", "", "Prometheus listen address (empty disables)")
	fs.String("mangohud-path", DefaultMangoHudPath, "MangoHud shared memory segment")
	fs.String("refresh-command", DefaultRefreshCommand, "Command used to set the refresh rate")
}

// Load reads configuration from defaults, the config file, the environment
// and fs (which may be nil), in increasing order of precedence.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		configPath: os.Getenv(envConfig),
		envPrefix:  envPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("database", defaultDatabase())
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), "smartrefreshd.pid"))
	v.SetDefault("history", true)
	v.SetDefault("history_retention", DefaultHistoryRetention)
	v.SetDefault("maintenance", DefaultMaintenance)
	v.SetDefault("metrics_listen", "")
	v.SetDefault("mangohud_path", DefaultMangoHudPath)
	v.SetDefault("stale_timeout", DefaultStaleTimeout)
	v.SetDefault("reconnect_interval", DefaultReconnectInterval)
	v.SetDefault("drm_path", DefaultDRMPath)
	v.SetDefault("power_supply_path", DefaultPowerSupplyPath)
	v.SetDefault("refresh_command", DefaultRefreshCommand)
	v.SetDefault("frame_limit_command", DefaultFrameLimitCommand)
	v.SetDefault("apply_timeout", DefaultApplyTimeout)
	v.SetDefault("resume_threshold", DefaultResumeThreshold)
	v.SetDefault("stddev_low", DefaultStdDevLow)
	v.SetDefault("stddev_high", DefaultStdDevHigh)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Interval:          v.GetDuration("interval"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		Debug:             v.GetBool("debug"),
		Verbose:           v.GetBool("verbose"),
		Socket:            v.GetString("socket"),
		Database:          v.GetString("database"),
		PIDFile:           v.GetString("pid_file"),
		History:           v.GetBool("history"),
		HistoryRetention:  v.GetDuration("history_retention"),
		Maintenance:       v.GetString("maintenance"),
		MetricsListen:     v.GetString("metrics_listen"),
		MangoHudPath:      v.GetString("mangohud_path"),
		StaleTimeout:      v.GetDuration("stale_timeout"),
		ReconnectInterval: v.GetDuration("reconnect_interval"),
		DRMPath:           v.GetString("drm_path"),
		PowerSupplyPath:   v.GetString("power_supply_path"),
		RefreshCommand:    v.GetString("refresh_command"),
		FrameLimitCommand: v.GetString("frame_limit_command"),
		ApplyTimeout:      v.GetDuration("apply_timeout"),
		ResumeThreshold:   v.GetDuration("resume_threshold"),
		StdDevLow:         v.GetFloat64("stddev_low"),
		StdDevHigh:        v.GetFloat64("stddev_high"),
		v:                 v,
	}
}

// Validate checks the values that would make the daemon misbehave.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.ApplyTimeout <= 0 || c.StaleTimeout <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if c.StdDevLow < 0 || c.StdDevLow >= c.StdDevHigh {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "stddev_low must be below stddev_high")
	}
	if c.Socket == "" || c.Database == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "socket and database paths are required")
	}

	return nil
}

// ApplyLogLevel pushes the configured level into the logger. Debug and
// verbose flags win over log_level.
func (c *Config) ApplyLogLevel() {
	switch {
	case c.Debug:
		logger.SetLogLevel(logger.DebugLevel)
	case c.Verbose:
		logger.SetLogLevel(logger.InfoLevel)
	default:
		level, _ := logger.ParseLevel(c.LogLevel)
		logger.SetLogLevel(level)
	}
}

// Watch reloads the config file on change and hands valid results to
// onChange. It returns false when no config file is in use.
func (c *Config) Watch(onChange func(*Config)) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		next := fromViper(c.v)
		if err := next.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(next)
	})
	c.v.WatchConfig()

	return true
}

func defaultDatabase() string {
	if os.Geteuid() == 0 {
		return "/var/lib/smartrefresh/state.db"
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, configName, "state.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", configName, "state.db")
	}

	return filepath.Join(os.TempDir(), configName, "state.db")
}
