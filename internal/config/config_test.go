package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
debug = false
verbose = true

[server]
host = "127.0.0.1"
port = 9090

[current]
rate = 20.0
limit = 150.0
samples = 64

[serial]
port = "/dev/ttyACM0"
baud = 115200

[stage]
xstep = 25
ystep = 25
zstep = 5

[laser]
defaultpower = 0.4
minvoltage = 6.0
maxvoltage = 20.0
pulseratelimit = 2.0

[firmware]
image = "/opt/lfictl/firmware.uf2"
flashretries = 5

[timing]
resetcooldown = "300ms"
commandtimeout = "2s"

[telemetry]
enabled = true
dbpath = "/tmp/telemetry.db"
`)
	configPath := filepath.Join(tempDir, "lfictl.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("LFICTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 20.0, cfg.Current.Rate, 1e-9)
	assert.Equal(t, 64, cfg.Current.Samples)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 25, cfg.Stage.XStep)
	assert.Equal(t, 5, cfg.Stage.ZStep)
	assert.InDelta(t, 0.4, cfg.Laser.DefaultPower, 1e-9)
	assert.Equal(t, 5, cfg.Firmware.FlashRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.Timing.ResetCooldown)
	assert.Equal(t, 2*time.Second, cfg.Timing.CommandTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/tmp/telemetry.db", cfg.Telemetry.DBPath)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LFICTL_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 10.0, cfg.Current.Rate, 1e-9)
	assert.Equal(t, 128, cfg.Current.Samples)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "Glitch detected", cfg.Serial.SuccessPattern)
	assert.Equal(t, 32, cfg.Stream.LogWindow)
	assert.Equal(t, 3, cfg.Firmware.FlashRetries)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Current:  config.CurrentConfig{Rate: 10, Limit: 250, Samples: 16, MaxExpected: 0.25},
			Laser:    config.LaserConfig{DefaultPower: 0.5, MinVoltage: 5, MaxVoltage: 25, PulseRateLimit: 5},
			Stage:    config.StageConfig{XMin: -10, XMax: 10, YMin: -10, YMax: 10, ZMin: -10, ZMax: 10},
			Firmware: config.FirmwareConfig{FlashRetries: 1},
			Stream:   config.StreamConfig{LogWindow: 32, SerialWindow: 32},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Current.Rate = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Laser.MinVoltage = 30
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Laser.DefaultPower = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Stage.XMin = 10
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Serial.SuccessPattern = "("
	assert.Error(t, cfg.Validate())
}

func TestSamplePeriod(t *testing.T) {
	c := config.CurrentConfig{Rate: 20}
	assert.Equal(t, 50*time.Millisecond, c.SamplePeriod())

	l := config.LaserConfig{PulseRateLimit: 4}
	assert.Equal(t, 250*time.Millisecond, l.MinPulseSpacing())
}
