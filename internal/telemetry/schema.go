package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/vawtctl/internal/errors"
)

// InitSchema initializes the database schema for the transition journal
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS transitions (
            id           INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id       TEXT NOT NULL,
            timestamp_ms INTEGER NOT NULL,
            from_mode    TEXT NOT NULL,
            to_mode      TEXT NOT NULL,
            reason       TEXT NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_transitions_run ON transitions (run_id, id);
    `)
	if err != nil {
		return errors.New().Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}
