// Package target manages the device under test: power sequencing, firmware
// loading, and the serial link that carries its console output.
package target

// Mode is the requested operating state of the target.
type Mode int8

const (
	Off Mode = iota
	Running
	Bootloader
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Running:
		return "running"
	case Bootloader:
		return "bootloader"
	}
	return "unknown"
}

// Control plays the power/run/bootsel sequences that force the target into a
// given mode. Implementations own the timing between pin transitions.
type Control interface {
	SetMode(mode Mode) error
}

// Port is the open serial connection to the target console.
type Port interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Dialer opens the target serial interface. The link calls it again after
// every disconnect.
type Dialer interface {
	Open() (Port, error)
}
