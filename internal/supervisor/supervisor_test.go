package supervisor_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/pulser"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"codeberg.org/lfilab/lfictl/internal/supervisor"
	"codeberg.org/lfilab/lfictl/internal/target"
	"codeberg.org/lfilab/lfictl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopFlasher struct{}

func (nopFlasher) Flash(context.Context, string) error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Stream = config.StreamConfig{LogWindow: 4, SerialWindow: 4}
	cfg.Current = config.CurrentConfig{Rate: 10, Samples: 4}
	cfg.Laser = config.LaserConfig{
		DefaultPower:   0.5,
		MinVoltage:     5.0,
		MaxVoltage:     25.0,
		PulseRateLimit: 1e9,
		PulseDuration:  time.Microsecond,
	}
	cfg.Stage = config.StageConfig{
		XStep: 1, YStep: 1, ZStep: 1,
		XMin: -100, XMax: 100,
		YMin: -100, YMax: 100,
		ZMin: -100, ZMax: 100,
	}
	cfg.Serial = config.SerialConfig{
		SuccessPattern:   `Glitch detected`,
		HeartbeatPattern: `Iteration \d+ - Sum = \d+`,
		OpenRetries:      1,
	}
	cfg.Timing = config.TimingConfig{
		ResetCooldown:      time.Millisecond,
		SerialOpenCooldown: time.Millisecond,
		CommandTimeout:     time.Second,
	}
	cfg.Firmware = config.FirmwareConfig{FlashRetries: 1}
	return cfg
}

func newSession(t *testing.T) *supervisor.Session {
	t.Helper()
	cfg := testConfig()
	s := supervisor.New(cfg, nil)

	driver, err := stage.New(stage.NewSimBoard(), cfg.Stage, cfg.Timing.CommandTimeout)
	require.NoError(t, err)

	det, err := target.NewDetector(cfg.Serial, s.RecordSuccess, nil)
	require.NoError(t, err)

	s.Bind(supervisor.Devices{
		Stage:  driver,
		Pulser: pulser.New(&pulser.SimDriver{}, cfg.Laser, s),
		Link:   target.NewLink(&target.SimControl{}, &target.SimDialer{}, nopFlasher{}, det, cfg, s),
	})
	return s
}

// drain returns everything currently buffered on the client channel.
func drain(c *supervisor.Client) []string {
	var out []string
	for {
		select {
		case p, ok := <-c.Recv():
			if !ok {
				return out
			}
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestAttachReplaysSessionState(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	require.NoError(t, s.ArmLaser(true))
	require.NoError(t, s.FirePulse(ctx))
	require.NoError(t, s.FirePulse(ctx))
	s.RecordSuccess()

	c := s.Attach()
	defer s.Detach(c)

	replay := drain(c)
	require.GreaterOrEqual(t, len(replay), 3)
	assert.JSONEq(t, `{"action":"set_pulse_counter","value":"2"}`, replay[0])
	assert.JSONEq(t, `{"action":"set_success_counter","value":"1"}`, replay[1])
	assert.JSONEq(t, `{"action":"enable_pulse_button"}`, replay[2])
}

func TestBroadcastOrderPerClient(t *testing.T) {
	s := newSession(t)

	a := s.Attach()
	b := s.Attach()
	drain(a)
	drain(b)

	for i := 0; i < 5; i++ {
		s.Publish(event.Serial{Timestamp: time.Now(), Text: string(rune('a' + i))})
	}

	wantOrder := []string{
		`{"serial":"a"}`, `{"serial":"b"}`, `{"serial":"c"}`, `{"serial":"d"}`, `{"serial":"e"}`,
	}
	gotA := drain(a)
	gotB := drain(b)
	require.Len(t, gotA, 5)
	require.Len(t, gotB, 5)
	for i, want := range wantOrder {
		assert.JSONEq(t, want, gotA[i])
		assert.JSONEq(t, want, gotB[i])
	}

	// Detaching one client never disturbs the other.
	s.Detach(a)
	s.Publish(event.Serial{Timestamp: time.Now(), Text: "after"})
	assert.Len(t, drain(b), 1)
	assert.Equal(t, 1, s.ClientCount())
}

func TestSlowClientDropped(t *testing.T) {
	s := newSession(t)

	slow := s.Attach()
	healthy := s.Attach()
	drain(healthy)

	// The slow client is never drained: once its buffer fills the session
	// must cut it loose rather than stall the loop.
	received := 0
	for i := 0; i < 400; i++ {
		s.Publish(event.Serial{Timestamp: time.Now(), Text: "x"})
		received += len(drain(healthy))
	}
	received += len(drain(healthy))

	assert.Equal(t, 1, s.ClientCount())
	assert.Equal(t, 400, received)

	// The dropped client's channel is closed after its buffer drains.
	for range slow.Recv() {
	}
}

// stalledRecorder blocks every current write until released, counting the
// samples that reached it.
type stalledRecorder struct {
	telemetry.Noop
	release chan struct{}
	seen    chan time.Time
}

func (r *stalledRecorder) RecordCurrent(_ context.Context, ts time.Time, _ float64) error {
	<-r.release
	r.seen <- ts
	return nil
}

func TestCurrentRecordingNeverStallsBroadcast(t *testing.T) {
	cfg := testConfig()
	rec := &stalledRecorder{release: make(chan struct{}), seen: make(chan time.Time, 128)}
	s := supervisor.New(cfg, rec)

	c := s.Attach()
	drain(c)

	// With the recorder wedged, publishing must still reach clients
	// immediately.
	for i := 0; i < 10; i++ {
		s.Publish(event.Current{Timestamp: time.Now(), Milliamps: float64(i)})
	}
	require.Len(t, drain(c), 10)

	// Once the recorder recovers, the queued samples land.
	close(rec.release)
	for i := 0; i < 10; i++ {
		select {
		case <-rec.seen:
		case <-time.After(time.Second):
			t.Fatalf("sample %d never recorded", i)
		}
	}
}

func TestSuccessNeverExceedsPulsesFired(t *testing.T) {
	s := newSession(t)
	c := s.Attach()
	drain(c)

	s.RecordSuccess()
	pulses, successes := s.Counters()
	assert.Equal(t, uint64(0), pulses)
	assert.Equal(t, uint64(0), successes)

	// The stray marker is reported, not counted.
	got := drain(c)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "no matching pulse")

	s.RecordPulse()
	s.RecordSuccess()
	pulses, successes = s.Counters()
	assert.Equal(t, uint64(1), pulses)
	assert.Equal(t, uint64(1), successes)
}

func TestFirePulseCountsOnlyConfirmed(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	// Disarmed: rejected, nothing counted.
	err := s.FirePulse(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidCommand))
	pulses, _ := s.Counters()
	assert.Equal(t, uint64(0), pulses)

	require.NoError(t, s.ArmLaser(true))
	require.NoError(t, s.FirePulse(ctx))
	pulses, _ = s.Counters()
	assert.Equal(t, uint64(1), pulses)
}

func TestFirePulseEmitsCounterUpdate(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.ArmLaser(true))

	c := s.Attach()
	drain(c)

	require.NoError(t, s.FirePulse(context.Background()))
	got := drain(c)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"action":"pulse"}`, got[0])
	assert.JSONEq(t, `{"action":"set_pulse_counter","value":"1"}`, got[1])
}

func TestMoveStagePublishesRefresh(t *testing.T) {
	s := newSession(t)
	c := s.Attach()
	drain(c)

	pos, err := s.MoveStage(context.Background(), "up", 0)
	require.NoError(t, err)
	assert.Equal(t, stage.Coordinates{Y: 1}, pos)

	got := drain(c)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"action":"refresh_coordinates"}`, got[0])

	// Unknown directions are rejected and reported as a warning record.
	_, err = s.MoveStage(context.Background(), "sideways", 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidCommand))
	got = drain(c)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "WARNING")
}

func TestLoadFirmwareDisarmsLaser(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.ArmLaser(true))

	require.NoError(t, s.LoadFirmware(context.Background(), "fw.uf2"))

	snap := s.Snapshot()
	assert.False(t, snap.LaserArmed)
	assert.False(t, snap.TargetPowered)
}

func TestSnapshot(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.ArmLaser(true))
	require.NoError(t, s.SetTargetPower(true))
	require.NoError(t, s.FirePulse(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.PulsesFired)
	assert.True(t, snap.LaserArmed)
	assert.True(t, snap.TargetPowered)
	assert.Equal(t, "idle", snap.LaserState)
	assert.Equal(t, stage.Steps{X: 1, Y: 1, Z: 1}, snap.Steps)
}
