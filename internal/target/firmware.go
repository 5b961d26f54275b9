package target

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

const (
	bootloaderSettle = 1 * time.Second
	flashRetryDelay  = 500 * time.Millisecond
)

// Flasher transfers a firmware image to a target sitting in bootloader mode.
type Flasher interface {
	Flash(ctx context.Context, image string) error
}

// ToolFlasher shells out to the configured flash tool (picotool).
type ToolFlasher struct {
	tool string
}

func NewToolFlasher(cfg config.FirmwareConfig) *ToolFlasher {
	return &ToolFlasher{tool: cfg.FlashTool}
}

func (f *ToolFlasher) Flash(ctx context.Context, image string) error {
	cmd := exec.CommandContext(ctx, f.tool, "load", "-v", "-x", image)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return errors.WithMessage(errors.ErrHardwareFault, msg)
	}
	return nil
}

// NopFlasher accepts any image without touching hardware. Used when flash
// transfers are disabled in the dev config.
type NopFlasher struct{}

func (NopFlasher) Flash(_ context.Context, image string) error {
	logger.Debug().Str("image", image).Msg("flash skipped")
	return nil
}

// LoadFirmware halts the target into bootloader mode, transfers the image
// with bounded retries, and leaves the target powered off regardless of
// outcome. Every failure, bootloader sequencing included, publishes CRITICAL
// and returns firmware_load_failed; the target stays de-energized until it
// is explicitly re-enabled.
func (l *Link) LoadFirmware(ctx context.Context, image string) error {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	l.setLoading(true)
	defer l.setLoading(false)

	logger.Info().Str("image", image).Msg("firmware load started")

	err := l.flashSequence(ctx, image)
	l.powerOff()

	if err != nil {
		l.sink.Publish(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelCritical,
			Message:   "Firmware load failed: " + err.Error(),
		})
		return errors.Wrap(errors.ErrFirmwareLoad, err)
	}

	l.sink.Publish(event.Log{
		Timestamp: time.Now(),
		Level:     event.LevelInfo,
		Message:   "Firmware loaded",
	})
	return nil
}

func (l *Link) flashSequence(ctx context.Context, image string) error {
	if err := l.ctrl.SetMode(Bootloader); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(bootloaderSettle):
	}

	var lastErr error
	for attempt := 1; attempt <= l.flashRetries; attempt++ {
		lastErr = l.flasher.Flash(ctx, image)
		if lastErr == nil {
			return nil
		}
		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("flash attempt failed")
		if attempt < l.flashRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(flashRetryDelay):
			}
		}
	}
	return lastErr
}

// powerOff drops the rail and publishes the disable edges without taking the
// command gate, for use from commands that already hold it.
func (l *Link) powerOff() {
	if err := l.ctrl.SetMode(Off); err != nil {
		logger.Error().Err(err).Msg("failed to power off target")
	}
	l.setPowered(false)
}
