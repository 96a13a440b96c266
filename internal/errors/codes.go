package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrInitApp        ErrorCode = "init_app_failed"
	ErrMainLoop       ErrorCode = "main_loop_failed"

	// Refresh control errors
	ErrSampleUnavailable ErrorCode = "sampler_unavailable"
	ErrDriver            ErrorCode = "display_apply_failed"
	ErrConfigRejected    ErrorCode = "policy_config_rejected"
	ErrProfileNotFound   ErrorCode = "profile_not_found"
	ErrPersistence       ErrorCode = "store_persistence_failed"

	// Control surface errors
	ErrUnknownCommand ErrorCode = "unknown_command"
	ErrInvalidRequest ErrorCode = "invalid_request"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrTimeout:           "Operation timed out",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read config file",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInitApp:           "Failed to initialize application",
	ErrMainLoop:          "Error in main loop",
	ErrSampleUnavailable: "Frame rate sample unavailable",
	ErrDriver:            "Failed to apply refresh rate",
	ErrConfigRejected:    "Configuration rejected",
	ErrProfileNotFound:   "Profile not found",
	ErrPersistence:       "Failed to persist state",
	ErrUnknownCommand:    "Unknown command",
	ErrInvalidRequest:    "Invalid request",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
