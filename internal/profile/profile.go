// Package profile maps running games to their saved refresh settings.
package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"codeberg.org/mutker/smartrefresh/internal/policy"
)

// Profile is stored exactly as the user saved it; the device policy is
// applied when it becomes active, so switching device mode never rewrites
// saved profiles.
type Profile struct {
	AppID               string             `json:"app_id"`
	Name                string             `json:"name"`
	MinHz               int                `json:"min_hz"`
	MaxHz               int                `json:"max_hz"`
	Sensitivity         policy.Sensitivity `json:"sensitivity"`
	AdaptiveSensitivity bool               `json:"adaptive_sensitivity"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Settings converts the profile into controller settings. Enabled is taken
// from the caller since profiles never toggle the daemon.
func (p Profile) Settings(enabled bool) policy.Settings {
	return policy.Settings{
		MinHz:               p.MinHz,
		MaxHz:               p.MaxHz,
		Sensitivity:         p.Sensitivity,
		Enabled:             enabled,
		AdaptiveSensitivity: p.AdaptiveSensitivity,
	}
}

// AppChanged announces the game now in the foreground. An empty AppID
// means no game is running.
type AppChanged struct {
	AppID string
	Name  string
}

// Repository persists profiles and the global default.
type Repository interface {
	LoadProfiles(ctx context.Context) ([]Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
	DeleteProfile(ctx context.Context, appID string) error
	LoadGlobalDefault(ctx context.Context) (policy.Settings, bool, error)
	SaveGlobalDefault(ctx context.Context, s policy.Settings) error
}

type Manager struct {
	repo Repository
	log  logger.Logger
	now  func() time.Time

	mu            sync.RWMutex
	profiles      map[string]Profile
	globalDefault policy.Settings
	current       AppChanged
}

// NewManager loads profiles from repo, which may be nil for an in-memory
// manager.
func NewManager(ctx context.Context, repo Repository) (*Manager, error) {
	m := &Manager{
		repo:          repo,
		log:           logger.Component("profile"),
		now:           time.Now,
		profiles:      make(map[string]Profile),
		globalDefault: policy.DefaultSettings(),
	}
	if repo == nil {
		return m, nil
	}

	errFactory := errors.New()

	profiles, err := repo.LoadProfiles(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrPersistence, err)
	}
	for _, p := range profiles {
		m.profiles[p.AppID] = p
	}

	def, ok, err := repo.LoadGlobalDefault(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrPersistence, err)
	}
	if ok {
		m.globalDefault = def
	}

	m.log.Debug().Int("profiles", len(m.profiles)).Msg("Profiles loaded")

	return m, nil
}

// OnAppChanged records the foreground app and returns the settings it
// should run with, plus whether a profile matched.
func (m *Manager) OnAppChanged(ev AppChanged) (policy.Settings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = ev
	if p, ok := m.profiles[ev.AppID]; ok && ev.AppID != "" {
		m.log.Info().Str("app_id", ev.AppID).Str("name", p.Name).Msg("Applying game profile")
		return p.Settings(m.globalDefault.Enabled), true
	}

	return m.globalDefault, false
}

// Save creates or replaces the profile for appID.
func (m *Manager) Save(ctx context.Context, appID, name string, s policy.Settings) (Profile, error) {
	errFactory := errors.New()

	if appID == "" {
		return Profile{}, errFactory.WithMessage(errors.ErrInvalidArgument, "app_id is required")
	}

	p := Profile{
		AppID:               appID,
		Name:                name,
		MinHz:               s.MinHz,
		MaxHz:               s.MaxHz,
		Sensitivity:         s.Sensitivity,
		AdaptiveSensitivity: s.AdaptiveSensitivity,
		UpdatedAt:           m.now().UTC(),
	}

	if m.repo != nil {
		if err := m.repo.SaveProfile(ctx, p); err != nil {
			return Profile{}, errFactory.Wrap(errors.ErrPersistence, err)
		}
	}

	m.mu.Lock()
	m.profiles[appID] = p
	m.mu.Unlock()

	return p, nil
}

func (m *Manager) Delete(ctx context.Context, appID string) error {
	errFactory := errors.New()

	m.mu.RLock()
	_, ok := m.profiles[appID]
	m.mu.RUnlock()
	if !ok {
		return errFactory.WithData(errors.ErrProfileNotFound, appID)
	}

	if m.repo != nil {
		if err := m.repo.DeleteProfile(ctx, appID); err != nil {
			return errFactory.Wrap(errors.ErrPersistence, err)
		}
	}

	m.mu.Lock()
	delete(m.profiles, appID)
	m.mu.Unlock()

	return nil
}

func (m *Manager) Get(appID string) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[appID]
	return p, ok
}

// List returns all profiles ordered by app ID.
func (m *Manager) List() []Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })

	return out
}

func (m *Manager) Current() AppChanged {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active reports whether the foreground app has a profile.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.profiles[m.current.AppID]
	return ok && m.current.AppID != ""
}

func (m *Manager) GlobalDefault() policy.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalDefault
}

func (m *Manager) SetGlobalDefault(ctx context.Context, s policy.Settings) error {
	if m.repo != nil {
		if err := m.repo.SaveGlobalDefault(ctx, s); err != nil {
			return errors.New().Wrap(errors.ErrPersistence, err)
		}
	}

	m.mu.Lock()
	m.globalDefault = s
	m.mu.Unlock()

	return nil
}
