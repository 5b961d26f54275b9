package config

import (
	"os"
	"regexp"
	"time"

	"codeberg.org/lfilab/lfictl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host string
	Port int
}

type CurrentConfig struct {
	Rate        float64 // samples per second
	Limit       float64 // mA, sustained readings above this log a warning
	Samples     int     // trailing window retained for clients
	MaxExpected float64 // A, sensor calibration full scale
}

type SerialConfig struct {
	Port             string
	Baud             int
	SuccessPattern   string
	HeartbeatPattern string
	OpenRetries      int
}

type I2CConfig struct {
	Bus int
}

type StageConfig struct {
	Port string
	Baud int

	XStep int
	YStep int
	ZStep int

	XMin, XMax int
	YMin, YMax int
	ZMin, ZMax int
}

type LaserConfig struct {
	DefaultPower   float64 // 0.0 .. 1.0
	MinVoltage     float64 // V
	MaxVoltage     float64 // V
	PulseRateLimit float64 // pulses per second
	PulseDuration  time.Duration
}

type IlluminationConfig struct {
	DefaultPower float64 // 0.0 .. 1.0
}

type FirmwareConfig struct {
	Image        string
	FlashTool    string
	FlashRetries int
}

type TimingConfig struct {
	ResetCooldown      time.Duration
	SerialTimeout      time.Duration
	SerialOpenCooldown time.Duration
	CommandTimeout     time.Duration
}

type TelemetryConfig struct {
	Enabled bool
	DBPath  string
}

type StreamConfig struct {
	LogWindow    int
	SerialWindow int
}

type DevConfig struct {
	SimHardware bool
	SkipFlash   bool
	AdminMode   bool
}

type Config struct {
	Debug   bool
	Verbose bool

	Server       ServerConfig
	I2C          I2CConfig
	Current      CurrentConfig
	Serial       SerialConfig
	Stage        StageConfig
	Laser        LaserConfig
	Illumination IlluminationConfig
	Firmware     FirmwareConfig
	Timing       TimingConfig
	Telemetry    TelemetryConfig
	Stream       StreamConfig
	Dev          DevConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("i2c.bus", 1)

	v.SetDefault("current.rate", 10.0)
	v.SetDefault("current.limit", 250.0)
	v.SetDefault("current.samples", 128)
	v.SetDefault("current.maxexpected", 0.25)

	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.successpattern", `Glitch detected`)
	v.SetDefault("serial.heartbeatpattern", `Iteration \d+ - Sum = \d+`)
	v.SetDefault("serial.openretries", 3)

	v.SetDefault("stage.baud", 115200)
	v.SetDefault("stage.xstep", 50)
	v.SetDefault("stage.ystep", 50)
	v.SetDefault("stage.zstep", 10)
	v.SetDefault("stage.xmin", -10000)
	v.SetDefault("stage.xmax", 10000)
	v.SetDefault("stage.ymin", -10000)
	v.SetDefault("stage.ymax", 10000)
	v.SetDefault("stage.zmin", -2000)
	v.SetDefault("stage.zmax", 2000)

	v.SetDefault("laser.defaultpower", 0.5)
	v.SetDefault("laser.minvoltage", 5.0)
	v.SetDefault("laser.maxvoltage", 25.0)
	v.SetDefault("laser.pulseratelimit", 5.0)
	v.SetDefault("laser.pulseduration", "10ms")

	v.SetDefault("illumination.defaultpower", 0.5)

	v.SetDefault("firmware.flashtool", "picotool")
	v.SetDefault("firmware.flashretries", 3)

	v.SetDefault("timing.resetcooldown", "200ms")
	v.SetDefault("timing.serialtimeout", "5s")
	v.SetDefault("timing.serialopencooldown", "1s")
	v.SetDefault("timing.commandtimeout", "10s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dbpath", "/var/lib/lfictl/telemetry.db")

	v.SetDefault("stream.logwindow", 32)
	v.SetDefault("stream.serialwindow", 32)

	v.SetDefault("dev.simhardware", false)
	v.SetDefault("dev.skipflash", false)
	v.SetDefault("dev.adminmode", false)
}

// Load reads the configuration from the TOML file and command line flags.
// Flags override file values. The config file is looked up at the path in
// LFICTL_CONFIG when set, otherwise as lfictl.toml in /etc and the working
// directory; a missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("lfictl", pflag.ContinueOnError)
	debugFlag := flags.Bool("debug", false, "Enable debugging mode")
	verboseFlag := flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("serial.port", "", "Target serial port")
	flags.Int("server.port", 0, "HTTP server port")
	flags.String("firmware.image", "", "Target firmware image")
	flags.Bool("telemetry.enabled", false, "Enable telemetry recording")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errors.Wrap(errors.ErrBindFlags, err)
	}

	if path := os.Getenv("LFICTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lfictl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	v.Set("debug", *debugFlag)
	v.Set("verbose", *verboseFlag)
	flags.Visit(func(f *pflag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Current.Rate <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "current.rate must be positive")
	}
	if c.Current.Samples < 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, "current.samples must be at least 1")
	}
	if c.Current.MaxExpected <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "current.maxexpected must be positive")
	}
	if c.Laser.MinVoltage >= c.Laser.MaxVoltage {
		return errors.WithMessage(errors.ErrInvalidConfig, "laser.minvoltage must be below laser.maxvoltage")
	}
	if c.Laser.DefaultPower < 0 || c.Laser.DefaultPower > 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, "laser.defaultpower must be within [0, 1]")
	}
	if c.Illumination.DefaultPower < 0 || c.Illumination.DefaultPower > 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, "illumination.defaultpower must be within [0, 1]")
	}
	if c.Laser.PulseRateLimit <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "laser.pulseratelimit must be positive")
	}
	if c.Stage.XMin >= c.Stage.XMax || c.Stage.YMin >= c.Stage.YMax || c.Stage.ZMin >= c.Stage.ZMax {
		return errors.WithMessage(errors.ErrInvalidConfig, "stage axis limits must satisfy min < max")
	}
	if c.Firmware.FlashRetries < 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, "firmware.flashretries must be at least 1")
	}
	if _, err := regexp.Compile(c.Serial.SuccessPattern); err != nil {
		return errors.Wrap(errors.ErrInvalidConfig, err)
	}
	if _, err := regexp.Compile(c.Serial.HeartbeatPattern); err != nil {
		return errors.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.Stream.LogWindow < 1 || c.Stream.SerialWindow < 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, "stream windows must be at least 1")
	}
	return nil
}

// SamplePeriod converts the configured sampling rate to a ticker period.
func (c CurrentConfig) SamplePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// MinPulseSpacing converts the pulse rate limit to a minimum interval.
func (c LaserConfig) MinPulseSpacing() time.Duration {
	return time.Duration(float64(time.Second) / c.PulseRateLimit)
}
