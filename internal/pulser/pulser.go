// Package pulser controls the laser pulse driver board.
package pulser

import (
	"context"
	"sync"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

// State is the controller's moment-to-moment condition. A fault latches
// until explicitly cleared.
type State int8

const (
	Idle State = iota
	Firing
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Firing:
		return "firing"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Driver is the pulser board transport. Pulse blocks until the hardware
// confirms the pulse went out.
type Driver interface {
	SetSupplyVoltage(voltage float64) error
	SetPower(on bool) error
	SetDriverEnable(on bool) error
	Pulse(ctx context.Context, width time.Duration) error
}

// Controller gates every pulse: it refuses to fire unless armed and idle,
// enforces the minimum spacing between pulses, and latches a fault when the
// hardware does not confirm.
type Controller struct {
	driver Driver
	sink   event.Sink

	minVoltage float64
	maxVoltage float64
	minSpacing time.Duration

	mu       sync.Mutex
	power    float64
	duration time.Duration
	state    State
	armed    bool
	lastFire time.Time
}

func New(driver Driver, cfg config.LaserConfig, sink event.Sink) *Controller {
	return &Controller{
		driver:     driver,
		sink:       sink,
		minVoltage: cfg.MinVoltage,
		maxVoltage: cfg.MaxVoltage,
		minSpacing: cfg.MinPulseSpacing(),
		power:      cfg.DefaultPower,
		duration:   cfg.PulseDuration,
	}
}

// Setup forces the board into a safe disarmed state and applies the default
// supply voltage.
func (c *Controller) Setup() error {
	if err := c.driver.SetDriverEnable(false); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	if err := c.driver.SetPower(false); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	if err := c.driver.SetSupplyVoltage(c.voltage(c.power)); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	return nil
}

// voltage maps a power fraction onto the configured supply range.
func (c *Controller) voltage(power float64) float64 {
	return c.minVoltage + power*(c.maxVoltage-c.minVoltage)
}

// Configure sets the pulse power fraction and width. Rejected while a pulse
// is in flight.
func (c *Controller) Configure(power float64, duration time.Duration) error {
	if power < 0 || power > 1 {
		return errors.WithMessage(errors.ErrInvalidArgument, "power must be within [0, 1]")
	}
	if duration <= 0 {
		return errors.WithMessage(errors.ErrInvalidArgument, "duration must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Firing {
		return errors.WithMessage(errors.ErrInvalidCommand, "pulse in flight")
	}

	if err := c.driver.SetSupplyVoltage(c.voltage(power)); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}
	c.power = power
	c.duration = duration
	logger.Debug().Float64("power", power).Dur("duration", duration).Msg("pulser configured")

	return nil
}

// Arm energizes (or de-energizes) the pulse driver. Arming is refused while
// a fault is latched; disarming is always allowed.
func (c *Controller) Arm(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if on && c.state == Faulted {
		return errors.WithMessage(errors.ErrInvalidCommand, "fault latched")
	}
	if c.armed == on {
		return nil
	}

	if on {
		if err := c.driver.SetPower(true); err != nil {
			return errors.Wrap(errors.ErrHardwareFault, err)
		}
		if err := c.driver.SetDriverEnable(true); err != nil {
			return errors.Wrap(errors.ErrHardwareFault, err)
		}
		c.armed = true
		c.sink.Publish(event.Signal{Action: event.ActionEnablePulseButton})
	} else {
		if err := c.driver.SetDriverEnable(false); err != nil {
			return errors.Wrap(errors.ErrHardwareFault, err)
		}
		if err := c.driver.SetPower(false); err != nil {
			return errors.Wrap(errors.ErrHardwareFault, err)
		}
		c.armed = false
		c.sink.Publish(event.Signal{Action: event.ActionDisablePulseButton})
	}
	logger.Info().Bool("armed", on).Msg("laser arm")

	return nil
}

// Fire sends one pulse. It returns nil only once the hardware has confirmed
// the pulse, so the caller can count it. A disarmed, faulted, busy, or
// rate-limited fire fails invalid_command without touching the hardware; a
// pulse the hardware does not confirm latches Faulted.
func (c *Controller) Fire(ctx context.Context) error {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return errors.WithMessage(errors.ErrInvalidCommand, "laser is not armed")
	}
	switch c.state {
	case Firing:
		c.mu.Unlock()
		return errors.WithMessage(errors.ErrInvalidCommand, "pulse in flight")
	case Faulted:
		c.mu.Unlock()
		return errors.WithMessage(errors.ErrInvalidCommand, "fault latched")
	}
	if !c.lastFire.IsZero() && time.Since(c.lastFire) < c.minSpacing {
		c.mu.Unlock()
		return errors.WithMessage(errors.ErrInvalidCommand, "pulse rate limited")
	}
	c.state = Firing
	width := c.duration
	c.mu.Unlock()

	err := c.driver.Pulse(ctx, width)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Faulted
		c.sink.Publish(event.Signal{Action: event.ActionDisablePulseButton})
		c.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelCritical,
			Message:   "Pulse not confirmed, fault latched: " + err.Error(),
		})
		return errors.Wrap(errors.ErrHardwareFault, err)
	}
	c.state = Idle
	c.lastFire = time.Now()

	return nil
}

// ClearFault unlatches a fault. The pulse button is re-enabled only if the
// laser is still armed.
func (c *Controller) ClearFault() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Faulted {
		return
	}
	c.state = Idle
	logger.Info().Msg("pulser fault cleared")
	if c.armed {
		c.sink.Publish(event.Signal{Action: event.ActionEnablePulseButton})
	}
}

// Armed reports whether the laser is armed, for state replay.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// CurrentState returns the controller state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Power returns the configured power fraction.
func (c *Controller) Power() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power
}

// Duration returns the configured pulse width.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}
