package store

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
)

const (
	defaultDirPerm      = 0o755
	defaultBatchSize    = 16
	defaultBatchTimeout = 5 * time.Second
	defaultRetention    = 7 * 24 * time.Hour
	defaultMaintenance  = "@every 1h"
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before a schema change.
	// Defaults to a backups directory next to DBPath.
	BackupDir    string
	History      bool
	BatchSize    int
	BatchTimeout time.Duration
	Retention    time.Duration
	// Maintenance is a cron spec for pruning and WAL checkpoints; empty
	// disables the job.
	Maintenance string
}

func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:       dbPath,
		History:      true,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Retention:    defaultRetention,
		Maintenance:  defaultMaintenance,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
