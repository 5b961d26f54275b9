package target

import (
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"go.bug.st/serial"
)

// SerialDialer opens the configured tty with go.bug.st/serial.
type SerialDialer struct {
	port        string
	baud        int
	readTimeout time.Duration
}

func NewSerialDialer(cfg config.SerialConfig, readTimeout time.Duration) *SerialDialer {
	return &SerialDialer{port: cfg.Port, baud: cfg.Baud, readTimeout: readTimeout}
}

func (d *SerialDialer) Open() (Port, error) {
	if d.port == "" {
		return nil, errors.WithMessage(errors.ErrInvalidConfig, "serial.port is not set")
	}

	mode := &serial.Mode{BaudRate: d.baud}
	port, err := serial.Open(d.port, mode)
	if err != nil {
		return nil, errors.Wrap(errors.ErrLinkDisconnected, err)
	}

	// A bounded read lets the reader loop notice a closed link instead of
	// blocking on a silent target forever.
	if d.readTimeout > 0 {
		if err := port.SetReadTimeout(d.readTimeout); err != nil {
			port.Close()
			return nil, errors.Wrap(errors.ErrLinkDisconnected, err)
		}
	}
	return port, nil
}
