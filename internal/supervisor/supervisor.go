// Package supervisor ties the rig devices together into one session: it fans
// events out to attached clients, keeps bounded history for late joiners,
// and owns the pulse counters.
package supervisor

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/illum"
	"codeberg.org/lfilab/lfictl/internal/logger"
	"codeberg.org/lfilab/lfictl/internal/pulser"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"codeberg.org/lfilab/lfictl/internal/target"
	"codeberg.org/lfilab/lfictl/internal/telemetry"
)

// Devices are the rig components a session commands.
type Devices struct {
	Stage  *stage.Driver
	Pulser *pulser.Controller
	Link   *target.Link
	Illum  *illum.Controller
}

// Client is one attached consumer. Marshaled events arrive on Recv in
// publish order; the channel closes when the session drops the client.
type Client struct {
	send chan []byte
}

func (c *Client) Recv() <-chan []byte { return c.send }

// Session is the single broadcast hub. It implements event.Sink for every
// producer on the rig. Publishing never blocks: a client that cannot keep up
// is dropped, not waited on.
type Session struct {
	devices  Devices
	recorder telemetry.Recorder

	sendBuffer int

	recordCh chan event.Current

	mu          sync.Mutex
	clients     map[*Client]struct{}
	logs        *event.Window[event.Log]
	serialWin   *event.Window[event.Serial]
	currentWin  *event.Window[event.Current]
	pulsesFired uint64
	successes   uint64
}

func New(cfg *config.Config, recorder telemetry.Recorder) *Session {
	buffer := cfg.Stream.LogWindow + cfg.Stream.SerialWindow + cfg.Current.Samples + 32
	if buffer < 256 {
		buffer = 256
	}
	if recorder == nil {
		recorder = telemetry.Noop{}
	}
	s := &Session{
		recorder:   recorder,
		sendBuffer: buffer,
		recordCh:   make(chan event.Current, 64),
		clients:    make(map[*Client]struct{}),
		logs:       event.NewWindow[event.Log](cfg.Stream.LogWindow),
		serialWin:  event.NewWindow[event.Serial](cfg.Stream.SerialWindow),
		currentWin: event.NewWindow[event.Current](cfg.Current.Samples),
	}
	go s.recordLoop()
	return s
}

// recordLoop drains queued current samples into the recorder for the life of
// the session.
func (s *Session) recordLoop() {
	for c := range s.recordCh {
		if err := s.recorder.RecordCurrent(context.Background(), c.Timestamp, c.Milliamps); err != nil {
			logger.Debug().Err(err).Msg("current sample not recorded")
		}
	}
}

// Bind attaches the devices. The devices publish into the session, so they
// are constructed after it; Bind closes the loop.
func (s *Session) Bind(devices Devices) {
	s.devices = devices
}

// Publish implements event.Sink.
func (s *Session) Publish(ev event.Event) {
	s.mu.Lock()
	s.publishLocked(ev)
	s.mu.Unlock()

	// Recording is handed to a separate goroutine; a slow disk must not
	// stall the fan-out. Samples are dropped when the queue backs up.
	if c, ok := ev.(event.Current); ok {
		select {
		case s.recordCh <- c:
		default:
			logger.Debug().Msg("current sample not recorded, queue full")
		}
	}
}

func (s *Session) publishLocked(ev event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Msg("event marshal failed")
		return
	}

	switch e := ev.(type) {
	case event.Log:
		s.logs.Push(e)
		mirror(e)
	case event.Serial:
		s.serialWin.Push(e)
	case event.Current:
		s.currentWin.Push(e)
	}

	s.broadcastLocked(payload)
}

func (s *Session) broadcastLocked(payload []byte) {
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			delete(s.clients, c)
			close(c.send)
			logger.Warn().Msg("slow client dropped")
		}
	}
}

// mirror copies a session log record onto the process log.
func mirror(l event.Log) {
	switch l.Level {
	case event.LevelWarning:
		logger.Warn().Msg(l.Message)
	case event.LevelError, event.LevelCritical:
		logger.Error().Msg(l.Message)
	default:
		logger.Info().Msg(l.Message)
	}
}

// Attach registers a new client. Its channel is pre-loaded with the session
// state: both counters, the control-surface enables that currently apply,
// then the retained log, serial, and current history in arrival order.
func (s *Session) Attach() *Client {
	armed := s.devices.Pulser != nil && s.devices.Pulser.Armed()
	powered := s.devices.Link != nil && s.devices.Link.Powered()
	connected := s.devices.Link != nil && s.devices.Link.Connected()

	c := &Client{send: make(chan []byte, s.sendBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.replayLocked(armed, powered, connected) {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}

	s.clients[c] = struct{}{}
	logger.Debug().Int("clients", len(s.clients)).Msg("client attached")
	return c
}

func (s *Session) replayLocked(armed, powered, connected bool) []event.Event {
	replay := []event.Event{
		event.Signal{Action: event.ActionSetPulseCounter, Value: strconv.FormatUint(s.pulsesFired, 10)},
		event.Signal{Action: event.ActionSetSuccessCounter, Value: strconv.FormatUint(s.successes, 10)},
	}
	if armed {
		replay = append(replay, event.Signal{Action: event.ActionEnablePulseButton})
	}
	if powered {
		replay = append(replay,
			event.Signal{Action: event.ActionEnableResetButton},
			event.Signal{Action: event.ActionTargetPowerOn})
	}
	if connected {
		replay = append(replay, event.Signal{Action: event.ActionSerialConnected})
	}
	for _, l := range s.logs.Items() {
		replay = append(replay, l)
	}
	for _, c := range s.serialWin.Items() {
		replay = append(replay, c)
	}
	for _, c := range s.currentWin.Items() {
		replay = append(replay, c)
	}
	return replay
}

// Detach removes a client and closes its channel. Safe to call for a client
// the session already dropped.
func (s *Session) Detach(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	logger.Debug().Int("clients", len(s.clients)).Msg("client detached")
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Counters returns the session pulse counters.
func (s *Session) Counters() (pulsesFired, successes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulsesFired, s.successes
}

// RecordPulse counts one confirmed pulse and pushes both the pulse flash and
// the updated counter to clients.
func (s *Session) RecordPulse() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pulsesFired++
	s.publishLocked(event.Signal{Action: event.ActionPulse})
	s.publishLocked(event.Signal{
		Action: event.ActionSetPulseCounter,
		Value:  strconv.FormatUint(s.pulsesFired, 10),
	})
}

// RecordSuccess counts one glitch marker. A marker that arrives with no
// matching pulse is reported but not counted, keeping successes bounded by
// pulses fired.
func (s *Session) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.successes >= s.pulsesFired {
		s.publishLocked(event.Log{
			Timestamp: time.Now(),
			Level:     event.LevelWarning,
			Message:   "Glitch marker with no matching pulse, not counted",
		})
		return
	}

	s.successes++
	s.publishLocked(event.Signal{Action: event.ActionSuccess})
	s.publishLocked(event.Signal{
		Action: event.ActionSetSuccessCounter,
		Value:  strconv.FormatUint(s.successes, 10),
	})
}
