package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/controller"
	"codeberg.org/mutker/smartrefresh/internal/history"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"codeberg.org/mutker/smartrefresh/internal/policy"
	"codeberg.org/mutker/smartrefresh/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "state.db"))
	cfg.Maintenance = ""
	cfg.BatchSize = 1
	return cfg
}

func openStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(cfg, logger.Component("store"))
	require.NoError(t, err)
	return s
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s := openStore(t, cfg)

	_, ok, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := State{
		Settings: policy.Settings{MinHz: 45, MaxHz: 60, Sensitivity: policy.Conservative, Enabled: false, AdaptiveSensitivity: true},
		Mode:     policy.LCD,
		Advanced: policy.Advanced{FPSTolerance: 4.5, ResumeCooldownSecs: 3, SyncFrameLimiter: true},
	}
	require.NoError(t, s.SaveState(ctx, want))
	require.NoError(t, s.Close())

	reopened := openStore(t, cfg)
	defer reopened.Close()

	got, ok, err := reopened.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestProfilesAndGlobalDefault(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, testConfig(t))
	defer s.Close()

	m, err := profile.NewManager(ctx, s)
	require.NoError(t, err)

	_, err = m.Save(ctx, "570", "Dota 2", policy.Settings{MinHz: 60, MaxHz: 90, Sensitivity: policy.Aggressive})
	require.NoError(t, err)
	_, err = m.Save(ctx, "570", "Dota 2", policy.Settings{MinHz: 50, MaxHz: 90, Sensitivity: policy.Aggressive})
	require.NoError(t, err)
	_, err = m.Save(ctx, "1091500", "Cyberpunk 2077", policy.Settings{MinHz: 40, MaxHz: 60, Sensitivity: policy.Balanced, AdaptiveSensitivity: true})
	require.NoError(t, err)

	def := policy.Settings{MinHz: 45, MaxHz: 85, Sensitivity: policy.Conservative, Enabled: true}
	require.NoError(t, m.SetGlobalDefault(ctx, def))

	profiles, err := s.LoadProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "1091500", profiles[0].AppID)
	assert.True(t, profiles[0].AdaptiveSensitivity)
	assert.Equal(t, 50, profiles[1].MinHz)

	got, ok, err := s.LoadGlobalDefault(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, def, got)

	require.NoError(t, m.Delete(ctx, "570"))
	profiles, err = s.LoadProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, testConfig(t))
	defer s.Close()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTransition(history.Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			FromHz:    90,
			ToHz:      45,
			FPS:       44.5,
			Direction: controller.Dropped,
		}))
	}

	recent, err := s.RecentTransitions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), recent[2].Timestamp)
	assert.Equal(t, controller.Dropped, recent[0].Direction)
	assert.InDelta(t, 44.5, recent[0].FPS, 1e-9)

	n, err := s.PruneTransitions(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBufferedTransitionsFlushOnClose(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.BatchTimeout = time.Hour

	s := openStore(t, cfg)
	require.NoError(t, s.RecordTransition(history.Record{Timestamp: time.Now(), FromHz: 45, ToHz: 90, FPS: 90, Direction: controller.Increased}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	reopened := openStore(t, cfg)
	defer reopened.Close()
	recent, err := reopened.RecentTransitions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = false
	s := openStore(t, cfg)
	defer s.Close()

	require.NoError(t, s.RecordTransition(history.Record{Timestamp: time.Now(), FromHz: 90, ToHz: 45, Direction: controller.Dropped}))
	recent, err := s.RecentTransitions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestSchemaMismatchBacksUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := openStore(t, cfg)
	defer s.Close()

	version, err := GetSchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "state_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestMaintenancePrunesOldHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Retention = time.Hour
	s := openStore(t, cfg)
	defer s.Close()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.RecordTransition(history.Record{Timestamp: now.Add(-2 * time.Hour), FromHz: 90, ToHz: 45, Direction: controller.Dropped}))
	require.NoError(t, s.RecordTransition(history.Record{Timestamp: now.Add(-time.Minute), FromHz: 45, ToHz: 90, Direction: controller.Increased}))

	s.maintain()

	recent, err := s.RecentTransitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, controller.Increased, recent[0].Direction)
}

func TestInvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance = "not a schedule"

	_, err := Open(cfg, logger.Component("store"))
	require.Error(t, err)
}

func TestMissingPath(t *testing.T) {
	_, err := Open(Config{}, logger.Component("store"))
	require.Error(t, err)
}
