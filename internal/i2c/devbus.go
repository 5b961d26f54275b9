// Package i2c talks to the Linux i2c-dev character devices. Register
// access is word (big-endian uint16) or byte oriented, matching the
// sensors and expanders hanging off the rig bus.
package i2c

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

// I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

// DevBus is a single /dev/i2c-N handle shared by every peripheral on the
// bus. Linux serializes per-transfer, but a register access is two
// transfers, so a mutex keeps addr selection and data paired.
type DevBus struct {
	mu   sync.Mutex
	file *os.File
	addr uint8
}

// Open opens the i2c-dev node for the given bus index.
func Open(bus int) (*DevBus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInitFailed, err)
	}

	return &DevBus{file: file, addr: 0xFF}, nil
}

func (b *DevBus) setAddr(addr uint8) error {
	if addr == b.addr {
		return nil
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, b.file.Fd(), i2cSlave, uintptr(addr))
	if errno != 0 {
		return errors.Wrap(errors.ErrHardwareFault, errno)
	}

	b.addr = addr

	return nil
}

// WriteReg writes a big-endian 16-bit value to a device register.
func (b *DevBus) WriteReg(ctx context.Context, addr, reg uint8, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.setAddr(addr); err != nil {
		return err
	}

	buf := [3]byte{reg, byte(value >> 8), byte(value)}
	if _, err := b.file.Write(buf[:]); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	return nil
}

// ReadReg reads a big-endian 16-bit value from a device register.
func (b *DevBus) ReadReg(ctx context.Context, addr, reg uint8) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.setAddr(addr); err != nil {
		return 0, err
	}

	if _, err := b.file.Write([]byte{reg}); err != nil {
		return 0, errors.Wrap(errors.ErrHardwareFault, err)
	}

	var buf [2]byte
	if _, err := b.file.Read(buf[:]); err != nil {
		return 0, errors.Wrap(errors.ErrHardwareFault, err)
	}

	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// WriteByteReg writes a single byte to a device register.
func (b *DevBus) WriteByteReg(ctx context.Context, addr, reg, value uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.setAddr(addr); err != nil {
		return err
	}

	if _, err := b.file.Write([]byte{reg, value}); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	return nil
}

// ReadByteReg reads a single byte from a device register.
func (b *DevBus) ReadByteReg(ctx context.Context, addr, reg uint8) (uint8, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.setAddr(addr); err != nil {
		return 0, err
	}

	if _, err := b.file.Write([]byte{reg}); err != nil {
		return 0, errors.Wrap(errors.ErrHardwareFault, err)
	}

	var buf [1]byte
	if _, err := b.file.Read(buf[:]); err != nil {
		return 0, errors.Wrap(errors.ErrHardwareFault, err)
	}

	return buf[0], nil
}

// Close releases the bus handle.
func (b *DevBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.file.Close()
}
