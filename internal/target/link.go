package target

import (
	"context"
	"sync"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

// Link owns the target device: its power sequencing, its firmware image, and
// the serial console stream. Commands are serialized through one gate so a
// power cycle can never interleave with a firmware load.
type Link struct {
	ctrl     Control
	dialer   Dialer
	flasher  Flasher
	detector *Detector
	sink     event.Sink

	openRetries   int
	openCooldown  time.Duration
	resetCooldown time.Duration
	flashRetries  int

	cmdMu sync.Mutex

	mu        sync.Mutex
	connected bool
	powered   bool
	loading   bool
}

func NewLink(ctrl Control, dialer Dialer, flasher Flasher, detector *Detector, cfg *config.Config, sink event.Sink) *Link {
	return &Link{
		ctrl:          ctrl,
		dialer:        dialer,
		flasher:       flasher,
		detector:      detector,
		sink:          sink,
		openRetries:   cfg.Serial.OpenRetries,
		openCooldown:  cfg.Timing.SerialOpenCooldown,
		resetCooldown: cfg.Timing.ResetCooldown,
		flashRetries:  cfg.Firmware.FlashRetries,
	}
}

// Setup forces the target into a known de-energized state.
func (l *Link) Setup() error {
	if err := l.ctrl.SetMode(Off); err != nil {
		return errors.Wrap(errors.ErrInitFailed, err)
	}
	return nil
}

// Run owns the serial read loop until ctx is cancelled. It reconnects after
// every disconnect, with a cooldown between open attempts, and publishes
// connection transitions exactly once per edge.
func (l *Link) Run(ctx context.Context) {
	buf := make([]byte, 512)

	for ctx.Err() == nil {
		port, err := l.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.waitCooldown(ctx)
			continue
		}

		l.setConnected(true)
		l.detector.Reset()
		l.readAll(ctx, port, buf)
		l.setConnected(false)

		l.waitCooldown(ctx)
	}
}

// open tries the dialer up to the configured number of attempts.
func (l *Link) open(ctx context.Context) (Port, error) {
	var lastErr error
	for attempt := 0; attempt < l.openRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		port, err := l.dialer.Open()
		if err == nil {
			return port, nil
		}
		lastErr = err
		logger.Debug().Err(err).Int("attempt", attempt+1).Msg("serial open failed")
		if attempt+1 < l.openRetries {
			l.waitCooldown(ctx)
		}
	}
	return nil, lastErr
}

func (l *Link) readAll(ctx context.Context, port Port, buf []byte) {
	// A blocking Read has no context; cancelling ctx closes the port to
	// unblock it.
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()
	defer port.Close()

	for {
		n, err := port.Read(buf)
		if n > 0 {
			l.sink.Publish(event.Serial{Timestamp: time.Now(), Text: string(buf[:n])})
			l.detector.Feed(buf[:n])
		}
		if err != nil {
			if ctx.Err() == nil {
				l.sink.Publish(event.Log{
					Timestamp: time.Now(),
					Level:     event.LevelError,
					Message:   "Target serial link lost: " + err.Error(),
				})
			}
			return
		}
	}
}

func (l *Link) waitCooldown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.openCooldown):
	}
}

func (l *Link) setConnected(connected bool) {
	l.mu.Lock()
	changed := l.connected != connected
	l.connected = connected
	l.mu.Unlock()
	if !changed {
		return
	}

	if connected {
		l.sink.Publish(event.Signal{Action: event.ActionSerialConnected})
		l.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelInfo,
			Message:   "Target serial connected",
		})
	} else {
		l.sink.Publish(event.Signal{Action: event.ActionSerialDisconnected})
		l.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelWarning,
			Message:   "Target serial disconnected",
		})
	}
}

func (l *Link) setPowered(powered bool) {
	l.mu.Lock()
	changed := l.powered != powered
	l.powered = powered
	l.mu.Unlock()
	if !changed {
		return
	}

	if powered {
		l.sink.Publish(event.Signal{Action: event.ActionTargetPowerOn})
		l.sink.Publish(event.Signal{Action: event.ActionEnableResetButton})
	} else {
		l.sink.Publish(event.Signal{Action: event.ActionTargetPowerOff})
		l.sink.Publish(event.Signal{Action: event.ActionDisableResetButton})
		l.sink.Publish(event.Signal{Action: event.ActionTargetEnToggleOff})
	}
}

// Connected reports whether the serial console is currently attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Powered reports whether the target is currently energized.
func (l *Link) Powered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.powered
}

// Loading reports whether a firmware load is in progress.
func (l *Link) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

func (l *Link) setLoading(loading bool) {
	l.mu.Lock()
	l.loading = loading
	l.mu.Unlock()
}

// PowerEnable turns the target power rail on or off.
func (l *Link) PowerEnable(on bool) error {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	if l.Loading() {
		return errors.WithMessage(errors.ErrInvalidCommand, "firmware load in progress")
	}

	mode := Off
	if on {
		mode = Running
	}
	if err := l.ctrl.SetMode(mode); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}
	l.setPowered(on)
	logger.Info().Bool("on", on).Msg("target power")

	return nil
}

// Reset power-cycles a running target with the configured cooldown between
// the off and on edges.
func (l *Link) Reset(ctx context.Context) error {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	if !l.Powered() {
		return errors.WithMessage(errors.ErrInvalidCommand, "target is not powered")
	}
	if l.Loading() {
		return errors.WithMessage(errors.ErrInvalidCommand, "firmware load in progress")
	}

	if err := l.ctrl.SetMode(Off); err != nil {
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	select {
	case <-ctx.Done():
		// The target is left de-energized; the caller sees the timeout.
		l.setPowered(false)
		return errors.Wrap(errors.ErrTransientTimeout, ctx.Err())
	case <-time.After(l.resetCooldown):
	}

	if err := l.ctrl.SetMode(Running); err != nil {
		l.setPowered(false)
		return errors.Wrap(errors.ErrHardwareFault, err)
	}

	l.sink.Publish(event.Log{
		Timestamp: time.Now(),
		Level:     event.LevelInfo,
		Message:   "Target reset",
	})
	return nil
}
