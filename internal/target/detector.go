package target

import (
	"bytes"
	"regexp"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
)

// Detector classifies target console lines. It fires the success callback
// exactly once per marker line and carries no counters or timing of its own.
type Detector struct {
	success   *regexp.Regexp
	heartbeat *regexp.Regexp

	onSuccess   func()
	onHeartbeat func()

	pending bytes.Buffer
}

// NewDetector compiles the configured marker patterns. Callbacks may be nil.
func NewDetector(cfg config.SerialConfig, onSuccess, onHeartbeat func()) (*Detector, error) {
	success, err := regexp.Compile(cfg.SuccessPattern)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}
	heartbeat, err := regexp.Compile(cfg.HeartbeatPattern)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	return &Detector{
		success:     success,
		heartbeat:   heartbeat,
		onSuccess:   onSuccess,
		onHeartbeat: onHeartbeat,
	}, nil
}

// Feed consumes a raw chunk from the serial stream. Chunks may split lines at
// arbitrary byte boundaries; a line is classified only once its terminator
// arrives.
func (d *Detector) Feed(chunk []byte) {
	d.pending.Write(chunk)

	for {
		data := d.pending.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		line := bytes.TrimRight(data[:idx], "\r")
		d.classify(line)
		d.pending.Next(idx + 1)
	}
}

// Reset drops any partial line, for use across target reconnects.
func (d *Detector) Reset() {
	d.pending.Reset()
}

func (d *Detector) classify(line []byte) {
	switch {
	case d.success.Match(line):
		if d.onSuccess != nil {
			d.onSuccess()
		}
	case d.heartbeat.Match(line):
		if d.onHeartbeat != nil {
			d.onHeartbeat()
		}
	}
}
