package target_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/lfilab/lfictl/internal/target"
)

type byteBusRecorder struct {
	mu     sync.Mutex
	writes []uint16 // reg<<8 | value
}

func (b *byteBusRecorder) WriteByteReg(_ context.Context, _, reg, value uint8) error {
	b.mu.Lock()
	b.writes = append(b.writes, uint16(reg)<<8|uint16(value))
	b.mu.Unlock()
	return nil
}

func (b *byteBusRecorder) ReadByteReg(context.Context, uint8, uint8) (uint8, error) {
	return 0, nil
}

// dataWrites returns the values written to the bank B data register, in order.
func (b *byteBusRecorder) dataWrites() []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint8
	for _, w := range b.writes {
		if w>>8 == 0x10 {
			out = append(out, uint8(w))
		}
	}
	return out
}

const (
	pwrEn   = 0b001
	run     = 0b010
	bootsel = 0b100
)

func TestSX1509SetupLeavesTargetOff(t *testing.T) {
	bus := &byteBusRecorder{}
	ctrl := target.NewSX1509Control(bus)
	require.NoError(t, ctrl.Setup(context.Background()))

	data := bus.dataWrites()
	require.Len(t, data, 1)
	assert.Equal(t, uint8(run|bootsel), data[0], "power must be off after setup")
}

func TestSX1509RunningPowerCycles(t *testing.T) {
	bus := &byteBusRecorder{}
	ctrl := target.NewSX1509Control(bus)
	require.NoError(t, ctrl.Setup(context.Background()))

	require.NoError(t, ctrl.SetMode(target.Running))

	data := bus.dataWrites()
	require.Len(t, data, 3)
	assert.Equal(t, uint8(run|bootsel), data[1], "rail drops before the cycle")
	assert.Equal(t, uint8(pwrEn|run|bootsel), data[2], "rail comes back up")
}

func TestSX1509BootloaderHoldsBootselThroughPowerUp(t *testing.T) {
	bus := &byteBusRecorder{}
	ctrl := target.NewSX1509Control(bus)
	require.NoError(t, ctrl.Setup(context.Background()))

	require.NoError(t, ctrl.SetMode(target.Bootloader))

	data := bus.dataWrites()
	require.Len(t, data, 4)
	assert.Equal(t, uint8(run), data[1], "power and bootsel both held low")
	assert.Equal(t, uint8(pwrEn|run), data[2], "powered up with bootsel still low")
	assert.Equal(t, uint8(pwrEn|run|bootsel), data[3], "bootsel released last")
}

// dimWrites returns the values written to the dimmer intensity register.
func (b *byteBusRecorder) dimWrites() []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint8
	for _, w := range b.writes {
		if w>>8 == 0x53 {
			out = append(out, uint8(w))
		}
	}
	return out
}

func TestSX1509BrightnessInvertsIntensity(t *testing.T) {
	bus := &byteBusRecorder{}
	ctrl := target.NewSX1509Control(bus)
	require.NoError(t, ctrl.Setup(context.Background()))

	// The driver sinks current, so full brightness is intensity zero.
	require.NoError(t, ctrl.SetBrightness(1.0))
	require.NoError(t, ctrl.SetBrightness(0.0))
	require.NoError(t, ctrl.SetBrightness(0.5))

	dim := bus.dimWrites()
	require.Len(t, dim, 4, "setup darkens the pin, then three explicit levels")
	assert.Equal(t, uint8(0xFF), dim[0])
	assert.Equal(t, uint8(0x00), dim[1])
	assert.Equal(t, uint8(0xFF), dim[2])
	assert.Equal(t, uint8(0x7F), dim[3])

	err := ctrl.SetBrightness(1.5)
	require.Error(t, err)
}

func TestSX1509RepeatedModeIsNoOp(t *testing.T) {
	bus := &byteBusRecorder{}
	ctrl := target.NewSX1509Control(bus)
	require.NoError(t, ctrl.Setup(context.Background()))

	require.NoError(t, ctrl.SetMode(target.Off))
	assert.Len(t, bus.dataWrites(), 1, "repeating the current mode writes nothing")
}
