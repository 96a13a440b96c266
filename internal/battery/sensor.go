package battery

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/smartrefresh/internal/errors"
)

// PowerSensor reports the instantaneous battery discharge in watts.
type PowerSensor interface {
	PowerWatts() (float64, error)
}

// Sysfs reads /sys/class/power_supply. power_now is preferred; batteries
// that only expose current_now and voltage_now are supported too.
type Sysfs struct {
	root      string
	batteries []string
}

func NewSysfs(root string) *Sysfs {
	return &Sysfs{root: root, batteries: []string{"BAT1", "BAT0"}}
}

func (s *Sysfs) PowerWatts() (float64, error) {
	errFactory := errors.New()

	for _, bat := range s.batteries {
		dir := filepath.Join(s.root, bat)

		if uw, err := readMicro(filepath.Join(dir, "power_now")); err == nil {
			return uw / 1e6, nil
		}

		ua, errA := readMicro(filepath.Join(dir, "current_now"))
		uv, errV := readMicro(filepath.Join(dir, "voltage_now"))
		if errA == nil && errV == nil {
			return ua * uv / 1e12, nil
		}
	}

	return 0, errFactory.WithData(ErrNoSensor, s.root)
}

func readMicro(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = -v
	}
	return v, nil
}
