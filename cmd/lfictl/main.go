package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/current"
	"codeberg.org/lfilab/lfictl/internal/i2c"
	"codeberg.org/lfilab/lfictl/internal/illum"
	"codeberg.org/lfilab/lfictl/internal/logger"
	"codeberg.org/lfilab/lfictl/internal/pid"
	"codeberg.org/lfilab/lfictl/internal/pulser"
	"codeberg.org/lfilab/lfictl/internal/server"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"codeberg.org/lfilab/lfictl/internal/supervisor"
	"codeberg.org/lfilab/lfictl/internal/target"
	"codeberg.org/lfilab/lfictl/internal/telemetry"
)

// Glitch cadence of the simulated target console.
const simGlitchEvery = 25

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("another instance is already running")
	}
	defer pid.Remove()

	recorder, err := telemetry.NewRecorder(cfg.Telemetry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open telemetry store")
	}
	defer recorder.Close()

	session := supervisor.New(cfg, recorder)

	rig, err := buildRig(session)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize rig hardware")
	}
	defer rig.close()

	session.Bind(supervisor.Devices{
		Stage:  rig.stage,
		Pulser: rig.pulser,
		Link:   rig.link,
		Illum:  rig.illum,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	go rig.monitor.Run(ctx)
	go rig.link.Run(ctx)

	if cfg.Firmware.Image != "" {
		go func() {
			logger.Info().Str("image", cfg.Firmware.Image).Msg("Loading firmware image from config")
			if err := session.LoadFirmware(ctx, cfg.Firmware.Image); err != nil {
				logger.Error().Err(err).Msg("startup firmware load failed")
			}
		}()
	}

	srv := server.New(cfg, session)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	cleanup(rig)
}

// rig bundles the constructed devices with their shared transports so the
// transports can be closed after the devices stop.
type rig struct {
	stage   *stage.Driver
	pulser  *pulser.Controller
	link    *target.Link
	illum   *illum.Controller
	monitor *current.Monitor

	closers []func() error
}

func (r *rig) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("device close failed")
		}
	}
}

func buildRig(session *supervisor.Session) (*rig, error) {
	r := &rig{}

	var (
		board  stage.Board
		sensor current.Sensor
		ctrl   target.Control
		dialer target.Dialer
		driver pulser.Driver
		lamp   illum.Driver
	)

	if cfg.Dev.SimHardware {
		logger.Info().Msg("Simulated hardware enabled")
		board = stage.NewSimBoard()
		sensor = &current.SimSensor{}
		ctrl = &target.SimControl{}
		dialer = &target.SimDialer{GlitchEvery: simGlitchEvery}
		driver = &pulser.SimDriver{}
		lamp = &illum.SimDriver{}
	} else {
		bus, err := i2c.Open(cfg.I2C.Bus)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, bus.Close)

		setupCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.CommandTimeout)
		defer cancel()

		ina := current.NewINA219(bus, cfg.Current.MaxExpected)
		if err := ina.Setup(setupCtx); err != nil {
			return nil, err
		}
		sensor = ina

		expander := target.NewSX1509Control(bus)
		if err := expander.Setup(setupCtx); err != nil {
			return nil, err
		}
		ctrl = expander
		lamp = expander

		sanga, err := stage.OpenSangaBoard(cfg.Stage.Port, cfg.Stage.Baud)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, sanga.Close)
		board = sanga

		dialer = target.NewSerialDialer(cfg.Serial, cfg.Timing.SerialTimeout)

		// The pulser board speaks a vendor USB protocol with no native
		// driver yet, so real rigs run with the simulated driver.
		logger.Warn().Msg("No pulser board driver available, using simulated driver")
		driver = &pulser.SimDriver{}
	}

	var err error
	r.stage, err = stage.New(board, cfg.Stage, cfg.Timing.CommandTimeout)
	if err != nil {
		return nil, err
	}

	r.pulser = pulser.New(driver, cfg.Laser, session)
	if err := r.pulser.Setup(); err != nil {
		return nil, err
	}

	detector, err := target.NewDetector(cfg.Serial, session.RecordSuccess, nil)
	if err != nil {
		return nil, err
	}

	var flasher target.Flasher
	if cfg.Dev.SkipFlash {
		flasher = target.NopFlasher{}
	} else {
		flasher = target.NewToolFlasher(cfg.Firmware)
	}

	r.link = target.NewLink(ctrl, dialer, flasher, detector, cfg, session)
	if err := r.link.Setup(); err != nil {
		return nil, err
	}

	r.illum = illum.New(lamp, cfg.Illumination)
	if err := r.illum.Setup(); err != nil {
		return nil, err
	}

	r.monitor = current.NewMonitor(sensor, cfg.Current, session)

	return r, nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// cleanup leaves the rig safe: laser disarmed, target de-energized.
func cleanup(r *rig) {
	if err := r.pulser.Arm(false); err != nil {
		logger.Error().Err(err).Msg("failed to disarm laser")
	}
	if err := r.link.PowerEnable(false); err != nil {
		logger.Error().Err(err).Msg("failed to power off target")
	}
	logger.Info().Msg("Exiting...")
}
