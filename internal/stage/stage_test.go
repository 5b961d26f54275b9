package stage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	apperrors "codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.StageConfig {
	return config.StageConfig{
		XStep: 10, YStep: 10, ZStep: 2,
		XMin: -100, XMax: 100,
		YMin: -100, YMax: 100,
		ZMin: -20, ZMax: 20,
	}
}

func TestMoveDirections(t *testing.T) {
	tests := []struct {
		dir  string
		want stage.Coordinates
	}{
		{"up", stage.Coordinates{Y: 10}},
		{"down", stage.Coordinates{Y: -10}},
		{"right", stage.Coordinates{X: 10}},
		{"left", stage.Coordinates{X: -10}},
		{"in", stage.Coordinates{Z: 2}},
		{"out", stage.Coordinates{Z: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
			require.NoError(t, err)

			dir, err := stage.ParseDirection(tt.dir)
			require.NoError(t, err)

			got, err := d.Move(context.Background(), dir, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoveStepOverride(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	got, err := d.Move(context.Background(), stage.Right, 3)
	require.NoError(t, err)
	assert.Equal(t, stage.Coordinates{X: 3}, got)
}

func TestMoveOutOfRange(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.MoveTo(ctx, stage.Coordinates{X: 95}))

	_, err = d.Move(ctx, stage.Right, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrOutOfRange, apperrors.CodeOf(err))

	// Last known-good position is untouched by the rejected move.
	assert.Equal(t, stage.Coordinates{X: 95}, d.LastCommanded())
}

func TestParseDirectionInvalid(t *testing.T) {
	_, err := stage.ParseDirection("sideways")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidArgument, apperrors.CodeOf(err))
}

// faultyBoard fails every move but still reports a position.
type faultyBoard struct{ pos stage.Coordinates }

func (b *faultyBoard) Position() (stage.Coordinates, error) { return b.pos, nil }
func (b *faultyBoard) MoveTo(stage.Coordinates) error       { return errors.New("motor stall") }
func (b *faultyBoard) Zero() error                          { return errors.New("motor stall") }

func TestMoveHardwareFault(t *testing.T) {
	d, err := stage.New(&faultyBoard{}, testConfig(), time.Second)
	require.NoError(t, err)

	_, err = d.Move(context.Background(), stage.Up, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrHardwareFault, apperrors.CodeOf(err))
	assert.Equal(t, stage.Coordinates{}, d.LastCommanded())
}

func TestMoveTimeout(t *testing.T) {
	board := stage.NewSimBoard()
	board.MoveDelay = 200 * time.Millisecond

	d, err := stage.New(board, testConfig(), 20*time.Millisecond)
	require.NoError(t, err)

	_, err = d.Move(context.Background(), stage.Up, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTransientTimeout, apperrors.CodeOf(err))
}

func TestMoveTimeoutResultIsolated(t *testing.T) {
	// A move that outlives the command timeout still completes on the board,
	// but its result must reach nobody: the caller sees only the timeout
	// error and a zero position, and the commanded coordinates become
	// visible solely through the gate once the board call returns.
	board := stage.NewSimBoard()
	board.MoveDelay = 100 * time.Millisecond

	d, err := stage.New(board, testConfig(), 10*time.Millisecond)
	require.NoError(t, err)

	pos, err := d.Move(context.Background(), stage.Up, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTransientTimeout, apperrors.CodeOf(err))
	assert.Equal(t, stage.Coordinates{}, pos)

	require.Eventually(t, func() bool {
		return d.LastCommanded() == stage.Coordinates{Y: 10}
	}, time.Second, 5*time.Millisecond)
}

func TestLockRejectsMotion(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	d.SetLock(true)

	_, err = d.Move(ctx, stage.Up, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidCommand, apperrors.CodeOf(err))

	require.Error(t, d.MoveTo(ctx, stage.Coordinates{X: 1}))
	require.Error(t, d.Zero(ctx))
	assert.Equal(t, stage.Coordinates{}, d.LastCommanded())

	// Queries still work while locked.
	_, err = d.Coordinates(ctx)
	require.NoError(t, err)

	d.SetLock(false)
	_, err = d.Move(ctx, stage.Up, 0)
	require.NoError(t, err)
}

func TestBypassEndstops(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	beyond := stage.Coordinates{X: 500}

	require.Error(t, d.MoveTo(ctx, beyond))

	d.SetBypassEndstops(true)
	require.NoError(t, d.MoveTo(ctx, beyond))
	assert.Equal(t, beyond, d.LastCommanded())

	d.SetBypassEndstops(false)
	_, err = d.Move(ctx, stage.Right, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrOutOfRange, apperrors.CodeOf(err))
}

func TestConcurrentMovesApplyInOrder(t *testing.T) {
	// Many concurrent single-step moves on one axis: each one reads the
	// commanded position under the gate, so the final position equals the
	// sum of all steps iff no two moves interleave.
	d, err := stage.New(stage.NewSimBoard(), config.StageConfig{
		XStep: 1, YStep: 1, ZStep: 1,
		XMin: -1000, XMax: 1000,
		YMin: -1000, YMax: 1000,
		ZMin: -1000, ZMax: 1000,
	}, time.Second)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Move(context.Background(), stage.Right, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, stage.Coordinates{X: n}, d.LastCommanded())
}

func TestSetSteps(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	require.NoError(t, d.SetSteps(stage.Steps{X: 5, Y: 6, Z: 7}))
	assert.Equal(t, stage.Steps{X: 5, Y: 6, Z: 7}, d.StepSizes())

	err = d.SetSteps(stage.Steps{X: 0, Y: 1, Z: 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidArgument, apperrors.CodeOf(err))
}

func TestZeroAndCenter(t *testing.T) {
	d, err := stage.New(stage.NewSimBoard(), testConfig(), time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.MoveTo(ctx, stage.Coordinates{X: 10, Y: -10, Z: 2}))
	require.NoError(t, d.Zero(ctx))
	assert.Equal(t, stage.Coordinates{}, d.LastCommanded())

	require.NoError(t, d.MoveTo(ctx, stage.Coordinates{X: 10}))
	require.NoError(t, d.Center(ctx))
	assert.Equal(t, stage.Coordinates{}, d.LastCommanded())
}
