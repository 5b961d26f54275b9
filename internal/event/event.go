// Package event defines the discriminated messages streamed to clients and
// the bounded history windows the session keeps for them.
package event

import (
	"encoding/json"
	"time"

	"codeberg.org/lfilab/lfictl/internal/errors"
)

// Kind discriminates the outbound message payloads.
type Kind string

const (
	KindCurrent Kind = "current"
	KindLog     Kind = "log"
	KindSerial  Kind = "serial"
	KindAction  Kind = "action"
)

// Action is a named control signal pushed to clients. The set is closed:
// the visualization layer dispatches on these exact strings.
type Action string

const (
	ActionSuccess            Action = "success"
	ActionPulse              Action = "pulse"
	ActionSetPulseCounter    Action = "set_pulse_counter"
	ActionSetSuccessCounter  Action = "set_success_counter"
	ActionEnablePulseButton  Action = "enable_pulse_button"
	ActionDisablePulseButton Action = "disable_pulse_button"
	ActionEnableResetButton  Action = "enable_reset_button"
	ActionDisableResetButton Action = "disable_reset_button"
	ActionSerialDisconnected Action = "set_serial_disconnected"
	ActionSerialConnected    Action = "set_serial_connected"
	ActionTargetPowerOff     Action = "set_target_power_disabled"
	ActionTargetPowerOn      Action = "set_target_power_enabled"
	ActionRefreshCoordinates Action = "refresh_coordinates"
	ActionTargetEnToggleOff  Action = "set_target_en_toggle_off"
)

// Valid reports whether a is one of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionSuccess, ActionPulse, ActionSetPulseCounter, ActionSetSuccessCounter,
		ActionEnablePulseButton, ActionDisablePulseButton,
		ActionEnableResetButton, ActionDisableResetButton,
		ActionSerialDisconnected, ActionSerialConnected,
		ActionTargetPowerOff, ActionTargetPowerOn,
		ActionRefreshCoordinates, ActionTargetEnToggleOff:
		return true
	}
	return false
}

// Event is one outbound message. Exactly the four kinds below implement it.
type Event interface {
	Kind() Kind
}

// Sink receives events produced by leaf components. The session broadcaster
// implements it; publishing must never block the producer.
type Sink interface {
	Publish(ev Event)
}

// Current carries one instantaneous current reading.
type Current struct {
	Timestamp time.Time
	Milliamps float64
}

func (Current) Kind() Kind { return KindCurrent }

func (c Current) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64{"current": c.Milliamps})
}

// Level classifies a log record.
type Level int8

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	}
	return "INFO"
}

// Log is one session log record.
type Log struct {
	Timestamp time.Time
	Level     Level
	Message   string
}

func (Log) Kind() Kind { return KindLog }

func (l Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"log": map[string]string{
			"level":   l.Level.String(),
			"message": l.Message,
			"date":    l.Timestamp.Format("15:04:05"),
		},
	})
}

// Serial is one raw text segment received from the target.
type Serial struct {
	Timestamp time.Time
	Text      string
}

func (Serial) Kind() Kind { return KindSerial }

func (s Serial) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"serial": s.Text})
}

// Signal is a named action, optionally carrying a value (counter updates).
type Signal struct {
	Action Action
	Value  string
}

func (Signal) Kind() Kind { return KindAction }

// MarshalJSON refuses actions outside the closed set so a typo never
// reaches clients as an unknown signal.
func (s Signal) MarshalJSON() ([]byte, error) {
	if !s.Action.Valid() {
		return nil, errors.WithData(errors.ErrInvalidArgument, string(s.Action))
	}
	if s.Value == "" {
		return json.Marshal(map[string]string{"action": string(s.Action)})
	}
	return json.Marshal(map[string]string{
		"action": string(s.Action),
		"value":  s.Value,
	})
}
