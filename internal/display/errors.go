package display

import "codeberg.org/mutker/smartrefresh/internal/errors"

const (
	ErrApplyFailed     = errors.ErrDriver
	ErrCommandNotFound = errors.ErrorCode("display_command_not_found")
	ErrInvalidRate     = errors.ErrorCode("display_invalid_rate")
)
