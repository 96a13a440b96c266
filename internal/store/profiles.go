package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
)

var _ profile.Repository = (*Store)(nil)

func (s *Store) LoadProfiles(ctx context.Context) ([]profile.Profile, error) {
	errFactory := errors.New()

	rows, err := s.db.QueryContext(ctx, selectProfilesSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		var (
			p           profile.Profile
			sensitivity string
			adaptive    int
			updated     int64
		)
		if err := rows.Scan(&p.AppID, &p.Name, &p.MinHz, &p.MaxHz, &sensitivity, &adaptive, &updated); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		p.Sensitivity = policy.Sensitivity(sensitivity)
		p.AdaptiveSensitivity = adaptive == 1
		p.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (s *Store) SaveProfile(ctx context.Context, p profile.Profile) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	_, err := s.db.ExecContext(ctx, upsertProfileSQL,
		p.AppID, p.Name, p.MinHz, p.MaxHz, string(p.Sensitivity),
		boolToInt(p.AdaptiveSensitivity), updated.Unix())
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, appID string) error {
	if _, err := s.db.ExecContext(ctx, deleteProfileSQL, appID); err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (s *Store) LoadGlobalDefault(ctx context.Context) (policy.Settings, bool, error) {
	var (
		st                policy.Settings
		sensitivity       string
		enabled, adaptive int
	)

	err := s.db.QueryRowContext(ctx, selectGlobalDefaultSQL).Scan(
		&st.MinHz, &st.MaxHz, &sensitivity, &enabled, &adaptive)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Settings{}, false, nil
	}
	if err != nil {
		return policy.Settings{}, false, errors.New().Wrap(ErrStorageAccess, err)
	}

	st.Sensitivity = policy.Sensitivity(sensitivity)
	st.Enabled = enabled == 1
	st.AdaptiveSensitivity = adaptive == 1

	return st, true, nil
}

func (s *Store) SaveGlobalDefault(ctx context.Context, st policy.Settings) error {
	_, err := s.db.ExecContext(ctx, upsertGlobalDefaultSQL,
		st.MinHz, st.MaxHz, string(st.Sensitivity),
		boolToInt(st.Enabled), boolToInt(st.AdaptiveSensitivity))
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}
