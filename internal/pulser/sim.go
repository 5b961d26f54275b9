package pulser

import (
	"context"
	"sync"
	"time"
)

// SimDriver stands in for the pulser board in development mode.
type SimDriver struct {
	mu       sync.Mutex
	voltage  float64
	power    bool
	driverEn bool
	pulses   int
}

func (d *SimDriver) SetSupplyVoltage(voltage float64) error {
	d.mu.Lock()
	d.voltage = voltage
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) SetPower(on bool) error {
	d.mu.Lock()
	d.power = on
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) SetDriverEnable(on bool) error {
	d.mu.Lock()
	d.driverEn = on
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) Pulse(ctx context.Context, width time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(width):
	}
	d.mu.Lock()
	d.pulses++
	d.mu.Unlock()
	return nil
}

// Pulses returns the number of confirmed pulses.
func (d *SimDriver) Pulses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses
}

// Voltage returns the last applied supply voltage.
func (d *SimDriver) Voltage() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voltage
}
