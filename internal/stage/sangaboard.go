package stage

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

// SangaBoard is a motor controller speaking a line oriented text protocol
// over a serial port. One command in flight at a time; moves block until
// the board acknowledges motion complete.
type SangaBoard struct {
	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
}

// OpenSangaBoard connects to the controller on the given serial port.
func OpenSangaBoard(portName string, baud int) (*SangaBoard, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrap(errors.ErrInitFailed, err)
	}

	return &SangaBoard{port: port, reader: bufio.NewReader(port)}, nil
}

// command sends one line and returns the board's reply line.
func (b *SangaBoard) command(cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", errors.Wrap(errors.ErrHardwareFault, err)
	}

	line, err := b.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(errors.ErrHardwareFault, err)
	}

	return strings.TrimSpace(line), nil
}

// Position queries the current step counts.
func (b *SangaBoard) Position() (Coordinates, error) {
	reply, err := b.command("p?")
	if err != nil {
		return Coordinates{}, err
	}

	var pos Coordinates
	if _, err := fmt.Sscanf(reply, "%d %d %d", &pos.X, &pos.Y, &pos.Z); err != nil {
		return Coordinates{}, errors.WithData(errors.ErrHardwareFault, reply)
	}

	return pos, nil
}

// MoveTo drives all axes to an absolute position. Blocks until the board
// reports the move done.
func (b *SangaBoard) MoveTo(pos Coordinates) error {
	reply, err := b.command(fmt.Sprintf("ma %d %d %d", pos.X, pos.Y, pos.Z))
	if err != nil {
		return err
	}

	if !strings.HasPrefix(reply, "done") {
		return errors.WithData(errors.ErrHardwareFault, reply)
	}

	return nil
}

// Zero declares the current position as the origin.
func (b *SangaBoard) Zero() error {
	reply, err := b.command("zero")
	if err != nil {
		return err
	}

	if !strings.HasPrefix(reply, "done") {
		return errors.WithData(errors.ErrHardwareFault, reply)
	}

	return nil
}

// Close releases the serial port.
func (b *SangaBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.port.Close()
}
