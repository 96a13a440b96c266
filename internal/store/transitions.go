package store

import (
	"context"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/history"
)

// RecordTransition buffers r and writes the batch once it is full. It is a
// no-op when history persistence is disabled.
func (s *Store) RecordTransition(r history.Record) error {
	if !s.cfg.History {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, r)
	if len(s.buffer) >= s.cfg.BatchSize {
		return s.flush()
	}

	return nil
}

// RecentTransitions returns up to limit persisted records, oldest first.
func (s *Store) RecentTransitions(ctx context.Context, limit int) ([]history.Record, error) {
	errFactory := errors.New()

	rows, err := s.db.QueryContext(ctx, selectRecentTransitionsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r         history.Record
			ts        int64
			direction string
		)
		if err := rows.Scan(&ts, &r.FromHz, &r.ToHz, &r.FPS, &direction); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		r.Direction = controller.Direction(direction)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

// PruneTransitions deletes records older than before.
func (s *Store) PruneTransitions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneTransitionsSQL, before.UnixMilli())
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return res.RowsAffected()
}

func (s *Store) flusher() {
	defer close(s.flushDoneChan)

	for {
		select {
		case <-s.flushTicker.C:
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.log.Warn().Err(err).Msg("History flush failed")
			}
			s.mu.Unlock()
		case <-s.shutdownChan:
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.log.Warn().Err(err).Msg("History flush failed")
			}
			s.mu.Unlock()
			return
		}
	}
}

// flush writes the buffer in one transaction. Callers hold s.mu.
func (s *Store) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertTransitionSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, r := range s.buffer {
		if _, err := stmt.Exec(r.Timestamp.UnixMilli(), r.FromHz, r.ToHz, r.FPS, string(r.Direction)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error().Err(rbErr).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	s.log.Debug().Int("records", len(s.buffer)).Msg("Flushed transitions to database")
	s.buffer = s.buffer[:0]

	return nil
}
