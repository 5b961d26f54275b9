package target

import (
	"context"
	"time"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

// ByteBus is the 8-bit register transport used by the GPIO expander.
type ByteBus interface {
	WriteByteReg(ctx context.Context, addr, reg, value uint8) error
	ReadByteReg(ctx context.Context, addr, reg uint8) (uint8, error)
}

// SX1509 register map, bank B only. The target control pins all live on
// the second bank of the expander.
const (
	sx1509Addr = 0x3E

	regInputDisableB = 0x00
	regOpenDrainB    = 0x0A
	regDirB          = 0x0E
	regDataB         = 0x10
	regClock         = 0x1E
	regMisc          = 0x1F
	regLEDDriverEnB  = 0x20
	regIOnDim        = 0x53 // intensity register of the dimmer pin
)

// Bank B bit positions of the target control pins and the illumination
// dimmer.
const (
	pinPowerEnable = 1 << 0
	pinRun         = 1 << 1
	pinBootSelect  = 1 << 2
	pinDim         = 1 << 3
)

// Settle time between pin transitions during a mode sequence.
const modeSettle = 200 * time.Millisecond

// SX1509Control drives the target power, run, and bootsel lines through an
// SX1509 GPIO expander. Pin writes go through a shadow of the data
// register so each update is a single bus transaction.
type SX1509Control struct {
	bus   ByteBus
	data  uint8
	mode  Mode
	known bool
}

// NewSX1509Control wraps the expander on the given bus.
func NewSX1509Control(bus ByteBus) *SX1509Control {
	return &SX1509Control{bus: bus}
}

// Setup programs the expander clock and output stage, then forces the
// target off. Must run before the first SetMode.
func (c *SX1509Control) Setup(ctx context.Context) error {
	// Internal 2MHz oscillator.
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regClock, 0b10<<5); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	// Slowest LED driver clock, keeps the outputs from glitching.
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regMisc, 0b111<<4); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	pins := uint8(pinPowerEnable | pinRun | pinBootSelect | pinDim)

	// Run and bootsel are open drain, power enable is push-pull.
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regOpenDrainB, pinRun|pinBootSelect); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regInputDisableB, pins); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regDirB, ^pins); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	// The dimmer pin runs the constant-current LED driver; start dark.
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regLEDDriverEnB, pinDim); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regIOnDim, 0xFF); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	// Power off, run and bootsel released.
	c.data = pinRun | pinBootSelect
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regDataB, c.data); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	c.mode = Off
	c.known = true

	return nil
}

func (c *SX1509Control) writePins(set, clear uint8) error {
	c.data = (c.data | set) &^ clear

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regDataB, c.data); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	return nil
}

// SetMode sequences the control pins into the requested mode. Repeating
// the current mode is a no-op.
func (c *SX1509Control) SetMode(mode Mode) error {
	if c.known && mode == c.mode {
		return nil
	}

	switch mode {
	case Off:
		if err := c.writePins(pinRun|pinBootSelect, pinPowerEnable); err != nil {
			return err
		}
	case Running:
		// Full power cycle so the target always boots fresh.
		if err := c.writePins(pinRun|pinBootSelect, pinPowerEnable); err != nil {
			return err
		}
		time.Sleep(modeSettle)
		if err := c.writePins(pinPowerEnable, 0); err != nil {
			return err
		}
	case Bootloader:
		// Power up with bootsel held low, then release it.
		if err := c.writePins(pinRun, pinPowerEnable|pinBootSelect); err != nil {
			return err
		}
		time.Sleep(modeSettle)
		if err := c.writePins(pinPowerEnable, 0); err != nil {
			return err
		}
		time.Sleep(modeSettle)
		if err := c.writePins(pinBootSelect, 0); err != nil {
			return err
		}
	default:
		return errors.WithMessage(errors.ErrInvalidCommand, "unknown target mode")
	}

	c.mode = mode
	c.known = true

	return nil
}

// SetBrightness sets the illumination dimmer duty fraction. The intensity
// register is inverted: 0x00 is full on, 0xFF is dark.
func (c *SX1509Control) SetBrightness(level float64) error {
	if level < 0 || level > 1 {
		return errors.WithMessage(errors.ErrInvalidArgument, "brightness must be within [0, 1]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw := uint8(0xFF * (1.0 - level))
	if err := c.bus.WriteByteReg(ctx, sx1509Addr, regIOnDim, raw); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	return nil
}
