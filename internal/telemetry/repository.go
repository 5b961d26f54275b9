package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

type sqliteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRecorder opens the configured database, or returns a Noop recorder when
// recording is disabled.
func NewRecorder(cfg config.TelemetryConfig) (Recorder, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if cfg.DBPath == "" {
		return nil, errors.New(ErrInvalidDBPath)
	}

	logger.Debug().Str("path", cfg.DBPath).Msg("initializing telemetry repository")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	return &sqliteRecorder{db: db}, nil
}

func (r *sqliteRecorder) RecordPulse(ctx context.Context, pulse PulseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO pulses (
            timestamp_ms, power, duration_us, pulses_fired, successes
        ) VALUES (?, ?, ?, ?, ?)
    `,
		pulse.Timestamp.UnixMilli(),
		pulse.Power,
		pulse.Duration.Microseconds(),
		pulse.PulsesFired,
		pulse.Successes,
	)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRecorder) RecordCurrent(ctx context.Context, timestamp time.Time, milliamps float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO current_samples (timestamp_ms, milliamps) VALUES (?, ?)
    `,
		timestamp.UnixMilli(),
		milliamps,
	)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}
	return nil
}
