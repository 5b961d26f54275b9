// Package stage drives the XYZ positioning stage holding the target die.
package stage

import (
	"context"
	"sync"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/logger"
)

// Direction is one discrete move axis+sign. In/Out move the Z axis
// (focus/approach), the rest move X and Y.
type Direction int8

const (
	Up Direction = iota
	Down
	Left
	Right
	In
	Out
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	case In:
		return "in"
	case Out:
		return "out"
	}
	return "unknown"
}

// ParseDirection maps the wire string to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "in":
		return In, nil
	case "out":
		return Out, nil
	}
	return 0, errors.WithData(errors.ErrInvalidArgument, s)
}

// Coordinates is a stage position as signed offsets from the reference origin.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Steps holds the configured per-axis move increments.
type Steps struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Board is the actuator transport. Moves block until motion completes.
// Kinematics and calibration live behind this boundary.
type Board interface {
	Position() (Coordinates, error)
	MoveTo(Coordinates) error
	Zero() error
}

type limits struct {
	xMin, xMax int
	yMin, yMax int
	zMin, zMax int
}

// Driver serializes access to the stage and tracks the last commanded
// position. All commands against the stage go through one Driver.
type Driver struct {
	mu      sync.Mutex
	board   Board
	coords  Coordinates
	steps   Steps
	limits  limits
	locked  bool
	bypass  bool
	timeout time.Duration
}

func New(board Board, cfg config.StageConfig, timeout time.Duration) (*Driver, error) {
	d := &Driver{
		board: board,
		steps: Steps{X: cfg.XStep, Y: cfg.YStep, Z: cfg.ZStep},
		limits: limits{
			xMin: cfg.XMin, xMax: cfg.XMax,
			yMin: cfg.YMin, yMax: cfg.YMax,
			zMin: cfg.ZMin, zMax: cfg.ZMax,
		},
		timeout: timeout,
	}

	pos, err := board.Position()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInitFailed, err)
	}
	d.coords = pos
	logger.Debug().Int("x", pos.X).Int("y", pos.Y).Int("z", pos.Z).Msg("stage initialized")

	return d, nil
}

// transact runs op while holding the resource gate. If op does not finish
// within the command timeout, the caller gets a transient_timeout but the
// gate stays held until the board call actually returns, so a late move
// cannot interleave with the next command. The result crosses only through
// the channel; a late completion never touches state the caller reads.
func (d *Driver) transact(ctx context.Context, op func() (Coordinates, error)) (Coordinates, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type result struct {
		pos Coordinates
		err error
	}

	d.mu.Lock()
	done := make(chan result, 1)
	go func() {
		defer d.mu.Unlock()
		pos, err := op()
		done <- result{pos: pos, err: err}
	}()

	select {
	case res := <-done:
		return res.pos, res.err
	case <-ctx.Done():
		return Coordinates{}, errors.Wrap(errors.ErrTransientTimeout, ctx.Err())
	}
}

// target computes the destination for a discrete move, using the configured
// step unless override is positive.
func (d *Driver) target(from Coordinates, dir Direction, override int) Coordinates {
	to := from
	step := func(configured int) int {
		if override > 0 {
			return override
		}
		return configured
	}
	switch dir {
	case Up:
		to.Y += step(d.steps.Y)
	case Down:
		to.Y -= step(d.steps.Y)
	case Right:
		to.X += step(d.steps.X)
	case Left:
		to.X -= step(d.steps.X)
	case In:
		to.Z += step(d.steps.Z)
	case Out:
		to.Z -= step(d.steps.Z)
	}
	return to
}

func (d *Driver) inRange(c Coordinates) bool {
	if d.bypass {
		return true
	}
	return c.X >= d.limits.xMin && c.X <= d.limits.xMax &&
		c.Y >= d.limits.yMin && c.Y <= d.limits.yMax &&
		c.Z >= d.limits.zMin && c.Z <= d.limits.zMax
}

func (d *Driver) checkUnlocked() error {
	if d.locked {
		return errors.WithMessage(errors.ErrInvalidCommand, "stage is locked")
	}
	return nil
}

// Move applies one discrete move. stepOverride <= 0 uses the configured
// step. Moves past an axis limit fail out_of_range and leave the commanded
// position untouched.
func (d *Driver) Move(ctx context.Context, dir Direction, stepOverride int) (Coordinates, error) {
	return d.transact(ctx, func() (Coordinates, error) {
		if err := d.checkUnlocked(); err != nil {
			return Coordinates{}, err
		}
		to := d.target(d.coords, dir, stepOverride)
		if !d.inRange(to) {
			return Coordinates{}, errors.WithData(errors.ErrOutOfRange, to)
		}
		if err := d.board.MoveTo(to); err != nil {
			return Coordinates{}, errors.Wrap(errors.ErrHardwareFault, err)
		}
		d.coords = to
		return to, nil
	})
}

// MoveTo moves to an absolute position.
func (d *Driver) MoveTo(ctx context.Context, to Coordinates) error {
	_, err := d.transact(ctx, func() (Coordinates, error) {
		if err := d.checkUnlocked(); err != nil {
			return Coordinates{}, err
		}
		if !d.inRange(to) {
			return Coordinates{}, errors.WithData(errors.ErrOutOfRange, to)
		}
		if err := d.board.MoveTo(to); err != nil {
			return Coordinates{}, errors.Wrap(errors.ErrHardwareFault, err)
		}
		d.coords = to
		return to, nil
	})
	return err
}

// Center moves back to the reference origin.
func (d *Driver) Center(ctx context.Context) error {
	return d.MoveTo(ctx, Coordinates{})
}

// Zero declares the current physical position to be the origin.
func (d *Driver) Zero(ctx context.Context) error {
	_, err := d.transact(ctx, func() (Coordinates, error) {
		if err := d.checkUnlocked(); err != nil {
			return Coordinates{}, err
		}
		if err := d.board.Zero(); err != nil {
			return Coordinates{}, errors.Wrap(errors.ErrHardwareFault, err)
		}
		d.coords = Coordinates{}
		return Coordinates{}, nil
	})
	return err
}

// Coordinates queries the authoritative position from the board. The read is
// idempotent, so a transient failure is retried once before giving up; on
// failure the last commanded position is returned alongside the error.
func (d *Driver) Coordinates(ctx context.Context) (Coordinates, error) {
	pos, err := d.transact(ctx, func() (Coordinates, error) {
		pos, innerErr := d.board.Position()
		if innerErr != nil {
			pos, innerErr = d.board.Position()
		}
		if innerErr != nil {
			return Coordinates{}, errors.Wrap(errors.ErrHardwareFault, innerErr)
		}
		return pos, nil
	})
	if err != nil {
		return d.LastCommanded(), err
	}
	return pos, nil
}

// SetLock engages or releases the stage lock. A locked stage rejects every
// motion command until unlocked; queries still work.
func (d *Driver) SetLock(locked bool) {
	d.mu.Lock()
	d.locked = locked
	d.mu.Unlock()
	logger.Info().Bool("locked", locked).Msg("stage lock")
}

// Locked reports whether the stage lock is engaged.
func (d *Driver) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// SetBypassEndstops disables or restores the software endstop limits.
func (d *Driver) SetBypassEndstops(bypass bool) {
	d.mu.Lock()
	d.bypass = bypass
	d.mu.Unlock()
	if bypass {
		logger.Warn().Msg("stage endstops bypassed")
	} else {
		logger.Info().Msg("stage endstops restored")
	}
}

// EndstopsBypassed reports whether the software endstops are bypassed.
func (d *Driver) EndstopsBypassed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bypass
}

// LastCommanded returns the last commanded position without touching the
// hardware.
func (d *Driver) LastCommanded() Coordinates {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coords
}

// SetSteps replaces the per-axis move increments.
func (d *Driver) SetSteps(s Steps) error {
	if s.X < 1 || s.Y < 1 || s.Z < 1 {
		return errors.WithData(errors.ErrInvalidArgument, s)
	}
	d.mu.Lock()
	d.steps = s
	d.mu.Unlock()
	return nil
}

// StepSizes returns the current per-axis move increments.
func (d *Driver) StepSizes() Steps {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}
