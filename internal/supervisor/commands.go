package supervisor

import (
	"context"
	"time"

	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"codeberg.org/lfilab/lfictl/internal/telemetry"
)

// Snapshot is the session state at a point in time, for HTTP state queries.
type Snapshot struct {
	PulsesFired     uint64            `json:"pulses_fired"`
	Successes       uint64            `json:"successes"`
	LaserArmed      bool              `json:"laser_armed"`
	LaserState      string            `json:"laser_state"`
	LaserPower      float64           `json:"laser_power"`
	TargetPowered   bool              `json:"target_powered"`
	SerialConnected bool              `json:"serial_connected"`
	Coordinates     stage.Coordinates `json:"coordinates"`
	Steps           stage.Steps       `json:"steps"`
	StageLocked     bool              `json:"stage_locked"`
	EndstopsBypass  bool              `json:"endstops_bypassed"`
	IllumEnabled    bool              `json:"illumination_enabled"`
	IllumPower      float64           `json:"illumination_power"`
}

// Snapshot collects the current session state.
func (s *Session) Snapshot() Snapshot {
	pulses, successes := s.Counters()
	snap := Snapshot{
		PulsesFired: pulses,
		Successes:   successes,
	}
	if s.devices.Pulser != nil {
		snap.LaserArmed = s.devices.Pulser.Armed()
		snap.LaserState = s.devices.Pulser.CurrentState().String()
		snap.LaserPower = s.devices.Pulser.Power()
	}
	if s.devices.Link != nil {
		snap.TargetPowered = s.devices.Link.Powered()
		snap.SerialConnected = s.devices.Link.Connected()
	}
	if s.devices.Stage != nil {
		snap.Coordinates = s.devices.Stage.LastCommanded()
		snap.Steps = s.devices.Stage.StepSizes()
		snap.StageLocked = s.devices.Stage.Locked()
		snap.EndstopsBypass = s.devices.Stage.EndstopsBypassed()
	}
	if s.devices.Illum != nil {
		snap.IllumEnabled = s.devices.Illum.Enabled()
		snap.IllumPower = s.devices.Illum.Power()
	}
	return snap
}

// report translates a failed command into a session log record. Commands
// rejected for state reasons are warnings; hardware and range failures are
// errors.
func (s *Session) report(op string, err error) {
	level := event.LevelError
	switch errors.CodeOf(err) {
	case errors.ErrInvalidCommand, errors.ErrInvalidArgument,
		errors.ErrTransientTimeout:
		level = event.LevelWarning
	}
	s.Publish(event.Log{
		Timestamp: time.Now(),
		Level:     level,
		Message:   op + " failed: " + err.Error(),
	})
}

// MoveStage applies one discrete stage move. step <= 0 uses the configured
// step size.
func (s *Session) MoveStage(ctx context.Context, direction string, step int) (stage.Coordinates, error) {
	dir, err := stage.ParseDirection(direction)
	if err != nil {
		err = errors.WithMessage(errors.ErrInvalidCommand, "unknown stage direction: "+direction)
		s.report("Stage move", err)
		return stage.Coordinates{}, err
	}

	pos, err := s.devices.Stage.Move(ctx, dir, step)
	if err != nil {
		s.report("Stage move", err)
		return pos, err
	}

	s.Publish(event.Signal{Action: event.ActionRefreshCoordinates})
	return pos, nil
}

// MoveStageTo moves the stage to an absolute position.
func (s *Session) MoveStageTo(ctx context.Context, to stage.Coordinates) error {
	if err := s.devices.Stage.MoveTo(ctx, to); err != nil {
		s.report("Stage move", err)
		return err
	}
	s.Publish(event.Signal{Action: event.ActionRefreshCoordinates})
	return nil
}

// SetStageSteps replaces the per-axis move increments.
func (s *Session) SetStageSteps(steps stage.Steps) error {
	if err := s.devices.Stage.SetSteps(steps); err != nil {
		s.report("Stage step update", err)
		return err
	}
	return nil
}

// StageCoordinates queries the stage position.
func (s *Session) StageCoordinates(ctx context.Context) (stage.Coordinates, error) {
	pos, err := s.devices.Stage.Coordinates(ctx)
	if err != nil {
		s.report("Stage position query", err)
	}
	return pos, err
}

// ZeroStage declares the current position to be the origin.
func (s *Session) ZeroStage(ctx context.Context) error {
	if err := s.devices.Stage.Zero(ctx); err != nil {
		s.report("Stage zero", err)
		return err
	}
	s.Publish(event.Signal{Action: event.ActionRefreshCoordinates})
	return nil
}

// CenterStage returns the stage to the origin.
func (s *Session) CenterStage(ctx context.Context) error {
	if err := s.devices.Stage.Center(ctx); err != nil {
		s.report("Stage center", err)
		return err
	}
	s.Publish(event.Signal{Action: event.ActionRefreshCoordinates})
	return nil
}

// LockStage blocks or unblocks stage motion.
func (s *Session) LockStage(locked bool) {
	s.devices.Stage.SetLock(locked)
}

// SetBypassEndstops suspends or restores the soft travel limits.
func (s *Session) SetBypassEndstops(on bool) {
	s.devices.Stage.SetBypassEndstops(on)
}

// SetIlluminationEnable switches the target illumination LED.
func (s *Session) SetIlluminationEnable(on bool) error {
	if err := s.devices.Illum.SetEnable(on); err != nil {
		s.report("Illumination", err)
		return err
	}
	return nil
}

// SetIlluminationPower sets the LED brightness fraction.
func (s *Session) SetIlluminationPower(power float64) error {
	if err := s.devices.Illum.SetPower(power); err != nil {
		s.report("Illumination power", err)
		return err
	}
	return nil
}

// ConfigurePulse sets the pulse power fraction and width. duration <= 0
// keeps the current width.
func (s *Session) ConfigurePulse(power float64, duration time.Duration) error {
	if duration <= 0 {
		duration = s.devices.Pulser.Duration()
	}
	if err := s.devices.Pulser.Configure(power, duration); err != nil {
		s.report("Pulse configuration", err)
		return err
	}
	return nil
}

// ArmLaser arms or disarms the laser.
func (s *Session) ArmLaser(on bool) error {
	if on && s.devices.Link.Loading() {
		err := errors.WithMessage(errors.ErrInvalidCommand, "firmware load in progress")
		s.report("Laser arm", err)
		return err
	}
	if err := s.devices.Pulser.Arm(on); err != nil {
		s.report("Laser arm", err)
		return err
	}
	return nil
}

// ClearLaserFault unlatches a pulser fault.
func (s *Session) ClearLaserFault() {
	s.devices.Pulser.ClearFault()
}

// FirePulse fires one pulse and, once the hardware confirms it, counts it
// and records it.
func (s *Session) FirePulse(ctx context.Context) error {
	if s.devices.Link.Loading() {
		err := errors.WithMessage(errors.ErrInvalidCommand, "firmware load in progress")
		s.report("Pulse", err)
		return err
	}

	if err := s.devices.Pulser.Fire(ctx); err != nil {
		s.report("Pulse", err)
		return err
	}

	s.RecordPulse()

	pulses, successes := s.Counters()
	record := telemetry.PulseRecord{
		Timestamp:   time.Now(),
		Power:       s.devices.Pulser.Power(),
		Duration:    s.devices.Pulser.Duration(),
		PulsesFired: pulses,
		Successes:   successes,
	}
	if err := s.recorder.RecordPulse(ctx, record); err != nil {
		logger.Debug().Err(err).Msg("pulse not recorded")
	}

	return nil
}

// ResetTarget power-cycles the target.
func (s *Session) ResetTarget(ctx context.Context) error {
	if err := s.devices.Link.Reset(ctx); err != nil {
		s.report("Target reset", err)
		return err
	}
	return nil
}

// SetTargetPower turns the target power rail on or off.
func (s *Session) SetTargetPower(on bool) error {
	if err := s.devices.Link.PowerEnable(on); err != nil {
		s.report("Target power", err)
		return err
	}
	return nil
}

// LoadFirmware disarms the laser and flashes the target. The target is left
// powered off afterwards regardless of outcome.
func (s *Session) LoadFirmware(ctx context.Context, image string) error {
	if err := s.devices.Pulser.Arm(false); err != nil {
		s.report("Laser disarm", err)
	}

	if err := s.devices.Link.LoadFirmware(ctx, image); err != nil {
		// The link already published the CRITICAL record.
		return err
	}
	return nil
}
