package telemetry

import (
	"context"
	"time"
)

// Recorder persists session history for offline analysis. All methods must
// be safe for concurrent use; recording is best effort and never gates the
// live loop.
type Recorder interface {
	RecordPulse(ctx context.Context, pulse PulseRecord) error
	RecordCurrent(ctx context.Context, timestamp time.Time, milliamps float64) error
	Close() error
}

// PulseRecord captures one fired pulse together with the session counters at
// the moment of firing.
type PulseRecord struct {
	Timestamp   time.Time
	Power       float64
	Duration    time.Duration
	PulsesFired uint64
	Successes   uint64
}

// Noop discards everything, for sessions with recording disabled.
type Noop struct{}

func (Noop) RecordPulse(context.Context, PulseRecord) error { return nil }

func (Noop) RecordCurrent(context.Context, time.Time, float64) error { return nil }

func (Noop) Close() error { return nil }
