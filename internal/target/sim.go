package target

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// SimControl records mode transitions without touching hardware.
type SimControl struct {
	mu   sync.Mutex
	mode Mode
}

func (c *SimControl) SetMode(mode Mode) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

func (c *SimControl) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SimDialer hands out a synthetic console that emits heartbeat lines and the
// occasional glitch marker, for running without a target attached.
type SimDialer struct {
	Interval    time.Duration // line cadence, default 500ms
	GlitchEvery int           // every n-th line is a glitch marker, 0 for never
}

func (d *SimDialer) Open() (Port, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &simPort{interval: interval, glitchEvery: d.GlitchEvery, closed: make(chan struct{})}, nil
}

type simPort struct {
	interval    time.Duration
	glitchEvery int
	iter        int
	closeOnce   sync.Once
	closed      chan struct{}
}

func (p *simPort) Read(buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(p.interval):
	}

	p.iter++
	line := fmt.Sprintf("Iteration %d - Sum = %d\n", p.iter, p.iter*31)
	if p.glitchEvery > 0 && p.iter%p.glitchEvery == 0 {
		line = "Glitch detected\n"
	}
	return copy(buf, line), nil
}

func (p *simPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
