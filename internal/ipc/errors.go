package ipc

import "codeberg.org/mutker/smartrefresh/internal/errors"

const (
	ErrUnknownCommand = errors.ErrUnknownCommand
	ErrInvalidRequest = errors.ErrInvalidRequest

	ErrSocketBind    = errors.ErrorCode("ipc_socket_bind_failed")
	ErrDial          = errors.ErrorCode("ipc_dial_failed")
	ErrBadResponse   = errors.ErrorCode("ipc_bad_response")
	ErrCommandFailed = errors.ErrorCode("ipc_command_failed")
)
