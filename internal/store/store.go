// Package store persists daemon settings, game profiles and the transition
// history in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
)

type Store struct {
	db     *sql.DB
	log    logger.Logger
	cfg    Config
	now    func() time.Time
	cron   *cron.Cron
	closed bool

	mu            sync.Mutex
	buffer        []history.Record
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// One writer keeps SQLite away from SQLITE_BUSY between the control
	// surface and the history flusher.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	s := &Store{
		db:            db,
		log:           log,
		cfg:           cfg,
		now:           time.Now,
		buffer:        make([]history.Record, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.History && cfg.BatchTimeout > 0 {
		s.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go s.flusher()
	} else {
		close(s.flushDoneChan)
	}

	if cfg.Maintenance != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.Maintenance, s.maintain); err != nil {
			s.Close()
			return nil, errFactory.Wrap(ErrInvalidSchedule, err)
		}
		s.cron.Start()
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Bool("history", cfg.History).
		Msg("State store initialized")

	return s, nil
}

// Close flushes buffered history, stops maintenance and checkpoints the WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	close(s.shutdownChan)
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}
	<-s.flushDoneChan

	s.mu.Lock()
	flushErr := s.flush()
	s.mu.Unlock()
	if flushErr != nil {
		s.log.Warn().Err(flushErr).Msg("Final history flush failed")
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.log.Info().Msg("State store closed gracefully")

	return nil
}

// maintain prunes old history and checkpoints the WAL.
func (s *Store) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.cfg.Retention > 0 {
		n, err := s.PruneTransitions(ctx, s.now().Add(-s.cfg.Retention))
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to prune transitions")
		} else if n > 0 {
			s.log.Debug().Int64("rows", n).Msg("Pruned transitions")
		}
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
}
