package telemetry

import (
	"database/sql"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS pulses (
            timestamp_ms INTEGER NOT NULL,
            power REAL,
            duration_us INTEGER,
            pulses_fired INTEGER,
            successes INTEGER
        );
        CREATE TABLE IF NOT EXISTS current_samples (
            timestamp_ms INTEGER NOT NULL,
            milliamps REAL
        );
        CREATE INDEX IF NOT EXISTS idx_pulses_ts ON pulses(timestamp_ms);
        CREATE INDEX IF NOT EXISTS idx_current_ts ON current_samples(timestamp_ms);
    `)
	if err != nil {
		return errors.Wrap(ErrStorageInit, err)
	}

	return nil
}
