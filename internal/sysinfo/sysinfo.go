// Package sysinfo reports host health for the rig dashboard.
package sysinfo

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/lfilab/lfictl/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

const ErrSensorRead = errors.ErrorCode("sysinfo_sensor_read_failed")

var vcgencmdTempRe = regexp.MustCompile(`^temp=(\d+\.\d+)'C$`)

// CPUTemp returns the SoC temperature in °C. On a Raspberry Pi host the
// firmware tool is authoritative; elsewhere the kernel thermal sensors are
// used.
func CPUTemp(ctx context.Context) (float64, error) {
	if temp, err := vcgencmdTemp(ctx); err == nil {
		return temp, nil
	}
	return sensorTemp(ctx)
}

func vcgencmdTemp(ctx context.Context) (float64, error) {
	out, err := exec.CommandContext(ctx, "vcgencmd", "measure_temp").Output()
	if err != nil {
		return 0, errors.Wrap(ErrSensorRead, err)
	}

	match := vcgencmdTempRe.FindStringSubmatch(strings.TrimSpace(string(out)))
	if match == nil {
		return 0, errors.WithMessage(ErrSensorRead, "unexpected vcgencmd output")
	}
	return strconv.ParseFloat(match[1], 64)
}

func sensorTemp(ctx context.Context) (float64, error) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(ErrSensorRead, err)
	}
	for _, s := range sensors {
		key := strings.ToLower(s.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "coretemp") ||
			strings.Contains(key, "cpu_thermal") || strings.Contains(key, "soc") {
			return s.Temperature, nil
		}
	}
	if len(sensors) > 0 {
		return sensors[0].Temperature, nil
	}
	return 0, errors.WithMessage(ErrSensorRead, "no temperature sensors found")
}

// CPULoad returns the total CPU utilization percentage over a short sampling
// window.
func CPULoad(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, errors.Wrap(ErrSensorRead, err)
	}
	if len(percents) == 0 {
		return 0, errors.WithMessage(ErrSensorRead, "no cpu utilization data")
	}
	return percents[0], nil
}

// Version reports the running build: git describe when the tree is a
// checkout, the .version file on packaged deployments, "unknown" otherwise.
func Version() string {
	if out, err := exec.Command("git", "describe", "--tags").Output(); err == nil {
		return strings.TrimSpace(string(out))
	}
	if raw, err := os.ReadFile(".version"); err == nil {
		return strings.TrimSpace(string(raw))
	}
	return "unknown"
}
