package telemetry

import (
	"net"

	"codeberg.org/mutker/smartrefresh/internal/errors"
)

type Config struct {
	// Listen is the address of the Prometheus endpoint; empty disables
	// telemetry entirely.
	Listen string
}

func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New().Wrap(ErrInvalidConfig, err)
	}
	return nil
}
