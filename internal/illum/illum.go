// Package illum controls the illumination LED ring lighting the target die.
package illum

import (
	"sync"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

// Driver sets the ring brightness as a duty fraction in [0, 1].
type Driver interface {
	SetBrightness(level float64) error
}

// Controller keeps the enable flag and power setting separate so toggling
// the ring off and on restores the previous power.
type Controller struct {
	driver Driver

	mu      sync.Mutex
	enabled bool
	power   float64
}

func New(driver Driver, cfg config.IlluminationConfig) *Controller {
	return &Controller{driver: driver, power: cfg.DefaultPower}
}

// Setup forces the ring dark.
func (c *Controller) Setup() error {
	if err := c.driver.SetBrightness(0); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	return nil
}

func (c *Controller) apply() error {
	level := 0.0
	if c.enabled {
		level = c.power
	}
	if err := c.driver.SetBrightness(level); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}
	return nil
}

// SetEnable turns the ring on at the configured power, or off.
func (c *Controller) SetEnable(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = on
	if err := c.apply(); err != nil {
		return err
	}
	logger.Debug().Bool("on", on).Msg("illumination")

	return nil
}

// SetPower sets the ring power fraction. Applied immediately when the ring
// is enabled, remembered otherwise.
func (c *Controller) SetPower(power float64) error {
	if power < 0 || power > 1 {
		return errors.WithMessage(errors.ErrInvalidArgument, "power must be within [0, 1]")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.power = power
	return c.apply()
}

// Enabled reports whether the ring is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Power returns the configured power fraction.
func (c *Controller) Power() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power
}
