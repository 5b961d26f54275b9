// Package current samples the target's supply current at a fixed rate.
package current

import (
	"context"
	"math"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

// INA219 register map (subset).
const (
	regConfiguration = 0x00
	regShuntVoltage  = 0x01
	regBusVoltage    = 0x02
	regPower         = 0x03
	regCurrent       = 0x04
	regCalibration   = 0x05
)

const (
	ina219Addr        = 0x40
	shuntResistorOhms = 300e-3
	shuntVoltageLSB   = 10e-6 // V
	busVoltageLSB     = 4e-3  // V
)

// Reading is one sensor sample. Overflow means the power and current
// registers carry no meaningful value for this conversion.
type Reading struct {
	ShuntVoltage float64 // V
	BusVoltage   float64 // V
	Milliamps    float64
	Overflow     bool
}

// Bus abstracts the 16-bit register transport to the sensor.
type Bus interface {
	WriteReg(ctx context.Context, addr, reg uint8, value uint16) error
	ReadReg(ctx context.Context, addr, reg uint8) (uint16, error)
}

// Sensor reads instantaneous current draw.
type Sensor interface {
	Setup(ctx context.Context) error
	Read(ctx context.Context) (Reading, error)
}

// INA219 is the on-board current sensor, in shunt+bus continuous mode.
type INA219 struct {
	bus         Bus
	currentLSB  float64 // A per count
	calibration uint16
}

// NewINA219 creates a driver calibrated for the given maximum expected
// current in amps.
func NewINA219(bus Bus, maxExpectedCurrent float64) *INA219 {
	currentLSB := maxExpectedCurrent / (1 << 15)
	return &INA219{
		bus:         bus,
		currentLSB:  currentLSB,
		calibration: uint16(0.04096 / (currentLSB * shuntResistorOhms)),
	}
}

// Setup resets the sensor and programs 16V FSR, /2 gain, 12-bit resolution,
// continuous shunt and bus conversions, then the calibration word.
func (s *INA219) Setup(ctx context.Context) error {
	if err := s.bus.WriteReg(ctx, ina219Addr, regConfiguration, 1<<15); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	configuration := uint16(1<<11 | 0b1000<<7 | 0b1000<<3 | 0b111)
	if err := s.bus.WriteReg(ctx, ina219Addr, regConfiguration, configuration); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	if err := s.bus.WriteReg(ctx, ina219Addr, regCalibration, s.calibration); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}

	return nil
}

// Read fetches one conversion from the sensor.
func (s *INA219) Read(ctx context.Context) (Reading, error) {
	rawShunt, err := s.bus.ReadReg(ctx, ina219Addr, regShuntVoltage)
	if err != nil {
		return Reading{}, errors.Wrap(errors.ErrHardwareFault, err)
	}
	rawBus, err := s.bus.ReadReg(ctx, ina219Addr, regBusVoltage)
	if err != nil {
		return Reading{}, errors.Wrap(errors.ErrHardwareFault, err)
	}
	rawCurrent, err := s.bus.ReadReg(ctx, ina219Addr, regCurrent)
	if err != nil {
		return Reading{}, errors.Wrap(errors.ErrHardwareFault, err)
	}

	reading := Reading{
		ShuntVoltage: float64(int16(rawShunt)) * shuntVoltageLSB,
		BusVoltage:   float64(rawBus>>3) * busVoltageLSB,
	}

	// Bit 0 of the bus voltage register is the math overflow flag.
	if rawBus&1 != 0 {
		reading.Overflow = true
		return reading, nil
	}

	reading.Milliamps = float64(int16(rawCurrent)) * s.currentLSB * 1e3
	return reading, nil
}

// SimSensor produces a deterministic 50Hz-ish wave for development rigs.
type SimSensor struct {
	phase float64
}

func (s *SimSensor) Setup(ctx context.Context) error { return nil }

func (s *SimSensor) Read(ctx context.Context) (Reading, error) {
	s.phase += 0.35
	mA := 35 + 12*math.Sin(s.phase)
	return Reading{Milliamps: mA, BusVoltage: 3.3}, nil
}
