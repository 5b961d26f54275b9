package current

import (
	"context"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

// Monitor polls the sensor on a fixed period and publishes one sample per
// tick. The cadence is a hard contract: a slow consumer or a failing read
// never delays the next tick.
type Monitor struct {
	sensor Sensor
	period time.Duration
	limit  float64 // mA
	sink   event.Sink

	overLimit  bool
	readFailed bool
}

func NewMonitor(sensor Sensor, cfg config.CurrentConfig, sink event.Sink) *Monitor {
	return &Monitor{
		sensor: sensor,
		period: cfg.SamplePeriod(),
		limit:  cfg.Limit,
		sink:   sink,
	}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	logger.Info().Dur("period", m.period).Msg("current monitor started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("current monitor stopped")
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, m.period)
	defer cancel()

	reading, err := m.sensor.Read(readCtx)
	if err != nil {
		// One warning per failure streak, not one per tick.
		if !m.readFailed {
			m.readFailed = true
			m.sink.Publish(event.Log{
				Timestamp: time.Now(),
				Level:     event.LevelWarning,
				Message:   "Current sensor read failed: " + err.Error(),
			})
		}
		return
	}
	m.readFailed = false

	if reading.Overflow {
		m.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelWarning,
			Message:   "Current sensor overflow, sample dropped",
		})
		return
	}

	m.sink.Publish(event.Current{Timestamp: time.Now(), Milliamps: reading.Milliamps})
	m.checkLimit(reading.Milliamps)
}

// checkLimit logs a warning on the rising edge of an over-limit condition.
func (m *Monitor) checkLimit(mA float64) {
	over := m.limit > 0 && mA > m.limit
	if over && !m.overLimit {
		m.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelWarning,
			Message:   "Target current above configured limit",
		})
	}
	m.overLimit = over
}
