package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS events (
	       id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp                INTEGER NOT NULL,
	       pair                     TEXT NOT NULL,
	       kind                     TEXT NOT NULL CHECK (kind IN ('tick', 'saturating', 'range_changed', 'discontinuity')),
	       instantaneous_rate       REAL NOT NULL,
	       smoothed_rate            REAL NOT NULL,
	       command_voltage          REAL NOT NULL,
	       full_scale_rate          REAL NOT NULL,
	       previous_full_scale_rate REAL NOT NULL,
	       saturation_strikes       INTEGER NOT NULL CHECK (typeof(saturation_strikes) = 'integer'),
	       delta_count              INTEGER NOT NULL CHECK (typeof(delta_count) = 'integer'),
	       elapsed_ns               INTEGER NOT NULL CHECK (typeof(elapsed_ns) = 'integer')
	   );
	   CREATE INDEX IF NOT EXISTS events_pair_timestamp ON events (pair, timestamp);`

	insertEventSQL = `
    INSERT INTO events (
        timestamp, pair, kind,
        instantaneous_rate, smoothed_rate, command_voltage,
        full_scale_rate, previous_full_scale_rate,
        saturation_strikes, delta_count, elapsed_ns
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectEventsSQL = `
    SELECT
        timestamp, pair, kind,
        instantaneous_rate, smoothed_rate, command_voltage,
        full_scale_rate, previous_full_scale_rate,
        saturation_strikes, delta_count, elapsed_ns
    FROM events
    WHERE pair = ?
    ORDER BY id DESC
    LIMIT ?`
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
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
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

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database
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
