package telemetry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderDisabledIsNoop(t *testing.T) {
	rec, err := telemetry.NewRecorder(config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, telemetry.Noop{}, rec)

	require.NoError(t, rec.RecordCurrent(context.Background(), time.Now(), 42.0))
	require.NoError(t, rec.Close())
}

func TestRecorderRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	rec, err := telemetry.NewRecorder(config.TelemetryConfig{Enabled: true, DBPath: dbPath})
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	require.NoError(t, rec.RecordPulse(ctx, telemetry.PulseRecord{
		Timestamp:   time.Now(),
		Power:       0.5,
		Duration:    10 * time.Millisecond,
		PulsesFired: 3,
		Successes:   1,
	}))
	require.NoError(t, rec.RecordCurrent(ctx, time.Now(), 37.5))

	// Re-opening against the same file must not disturb existing rows.
	require.NoError(t, rec.Close())
	rec, err = telemetry.NewRecorder(config.TelemetryConfig{Enabled: true, DBPath: dbPath})
	require.NoError(t, err)
	require.NoError(t, rec.RecordCurrent(ctx, time.Now(), 38.0))
	require.NoError(t, rec.Close())
}

func TestRecorderRejectsEmptyPath(t *testing.T) {
	_, err := telemetry.NewRecorder(config.TelemetryConfig{Enabled: true})
	require.Error(t, err)
}
