package store

import (
	"database/sql"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS settings (
	       id                   INTEGER PRIMARY KEY CHECK (id = 1),
	       min_hz               INTEGER NOT NULL,
	       max_hz               INTEGER NOT NULL,
	       sensitivity          TEXT NOT NULL,
	       enabled              INTEGER NOT NULL CHECK (enabled IN (0, 1)),
	       adaptive             INTEGER NOT NULL CHECK (adaptive IN (0, 1)),
	       device_mode          TEXT NOT NULL,
	       fps_tolerance        REAL NOT NULL,
	       resume_cooldown_secs REAL NOT NULL,
	       sync_frame_limiter   INTEGER NOT NULL CHECK (sync_frame_limiter IN (0, 1)),
	       updated_at           INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS global_default (
	       id          INTEGER PRIMARY KEY CHECK (id = 1),
	       min_hz      INTEGER NOT NULL,
	       max_hz      INTEGER NOT NULL,
	       sensitivity TEXT NOT NULL,
	       enabled     INTEGER NOT NULL CHECK (enabled IN (0, 1)),
	       adaptive    INTEGER NOT NULL CHECK (adaptive IN (0, 1))
	   );
	   CREATE TABLE IF NOT EXISTS profiles (
	       app_id      TEXT PRIMARY KEY,
	       name        TEXT NOT NULL,
	       min_hz      INTEGER NOT NULL,
	       max_hz      INTEGER NOT NULL,
	       sensitivity TEXT NOT NULL,
	       adaptive    INTEGER NOT NULL CHECK (adaptive IN (0, 1)),
	       updated_at  INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS transitions (
	       id        INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp INTEGER NOT NULL,
	       from_hz   INTEGER NOT NULL,
	       to_hz     INTEGER NOT NULL,
	       fps       REAL NOT NULL,
	       direction TEXT NOT NULL CHECK (direction IN ('dropped', 'increased'))
	   );
	   CREATE INDEX IF NOT EXISTS transitions_timestamp ON transitions (timestamp);`

	upsertSettingsSQL = `
    INSERT INTO settings (
        id, min_hz, max_hz, sensitivity, enabled, adaptive,
        device_mode, fps_tolerance, resume_cooldown_secs, sync_frame_limiter, updated_at
    ) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (id) DO UPDATE SET
        min_hz = excluded.min_hz,
        max_hz = excluded.max_hz,
        sensitivity = excluded.sensitivity,
        enabled = excluded.enabled,
        adaptive = excluded.adaptive,
        device_mode = excluded.device_mode,
        fps_tolerance = excluded.fps_tolerance,
        resume_cooldown_secs = excluded.resume_cooldown_secs,
        sync_frame_limiter = excluded.sync_frame_limiter,
        updated_at = excluded.updated_at`

	selectSettingsSQL = `
    SELECT min_hz, max_hz, sensitivity, enabled, adaptive,
           device_mode, fps_tolerance, resume_cooldown_secs, sync_frame_limiter
    FROM settings WHERE id = 1`

	upsertGlobalDefaultSQL = `
    INSERT INTO global_default (id, min_hz, max_hz, sensitivity, enabled, adaptive)
    VALUES (1, ?, ?, ?, ?, ?)
    ON CONFLICT (id) DO UPDATE SET
        min_hz = excluded.min_hz,
        max_hz = excluded.max_hz,
        sensitivity = excluded.sensitivity,
        enabled = excluded.enabled,
        adaptive = excluded.adaptive`

	selectGlobalDefaultSQL = `
    SELECT min_hz, max_hz, sensitivity, enabled, adaptive
    FROM global_default WHERE id = 1`

	upsertProfileSQL = `
    INSERT INTO profiles (app_id, name, min_hz, max_hz, sensitivity, adaptive, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (app_id) DO UPDATE SET
        name = excluded.name,
        min_hz = excluded.min_hz,
        max_hz = excluded.max_hz,
        sensitivity = excluded.sensitivity,
        adaptive = excluded.adaptive,
        updated_at = excluded.updated_at`

	selectProfilesSQL = `
    SELECT app_id, name, min_hz, max_hz, sensitivity, adaptive, updated_at
    FROM profiles ORDER BY app_id`

	deleteProfileSQL = `DELETE FROM profiles WHERE app_id = ?`

	insertTransitionSQL = `
    INSERT INTO transitions (timestamp, from_hz, to_hz, fps, direction)
    VALUES (?, ?, ?, ?, ?)`

	selectRecentTransitionsSQL = `
    SELECT timestamp, from_hz, to_hz, fps, direction FROM (
        SELECT id, timestamp, from_hz, to_hz, fps, direction
        FROM transitions ORDER BY id DESC LIMIT ?
    ) ORDER BY id ASC`

	pruneTransitionsSQL = `DELETE FROM transitions WHERE timestamp < ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
