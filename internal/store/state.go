package store

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/policy"
)

// State is the daemon configuration that survives restarts.
type State struct {
	Settings policy.Settings
	Mode     policy.DeviceMode
	Advanced policy.Advanced
}

func (s *Store) SaveState(ctx context.Context, st State) error {
	_, err := s.db.ExecContext(ctx, upsertSettingsSQL,
		st.Settings.MinHz,
		st.Settings.MaxHz,
		string(st.Settings.Sensitivity),
		boolToInt(st.Settings.Enabled),
		boolToInt(st.Settings.AdaptiveSensitivity),
		string(st.Mode),
		st.Advanced.FPSTolerance,
		st.Advanced.ResumeCooldownSecs,
		boolToInt(st.Advanced.SyncFrameLimiter),
		s.now().Unix(),
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

// LoadState returns the saved state and false when nothing was saved yet.
func (s *Store) LoadState(ctx context.Context) (State, bool, error) {
	var (
		st                      State
		sensitivity, mode       string
		enabled, adaptive, sync int
	)

	err := s.db.QueryRowContext(ctx, selectSettingsSQL).Scan(
		&st.Settings.MinHz,
		&st.Settings.MaxHz,
		&sensitivity,
		&enabled,
		&adaptive,
		&mode,
		&st.Advanced.FPSTolerance,
		&st.Advanced.ResumeCooldownSecs,
		&sync,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.New().Wrap(ErrStorageAccess, err)
	}

	st.Settings.Sensitivity = policy.Sensitivity(sensitivity)
	st.Settings.Enabled = enabled == 1
	st.Settings.AdaptiveSensitivity = adaptive == 1
	st.Mode = policy.DeviceMode(mode)
	st.Advanced.SyncFrameLimiter = sync == 1

	return st, true, nil
}
