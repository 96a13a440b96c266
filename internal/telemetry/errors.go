package telemetry

import "codeberg.org/mutker/smartrefresh/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrListen          = errors.ErrorCode("telemetry_listen_failed")
	ErrServiceShutdown = errors.ErrShutdownFailed
	ErrInvalidSnapshot = errors.ErrorCode("telemetry_invalid_snapshot")
)
