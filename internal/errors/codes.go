package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrInvalidState    ErrorCode = "invalid_state"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrBindFlags     ErrorCode = "bind_flags_failed"
	ErrReadConfig    ErrorCode = "read_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Device errors
	ErrDevice               ErrorCode = "device_error"
	ErrCounterDiscontinuity ErrorCode = "counter_discontinuity"
	ErrTickTimeout          ErrorCode = "tick_timeout"

	// Application errors
	ErrInitApp    ErrorCode = "init_app_failed"
	ErrLoopFailed ErrorCode = "loop_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Telemetry errors
	ErrInitTelemetry  ErrorCode = "init_telemetry_failed"
	ErrRecordEvent    ErrorCode = "record_event_failed"
	ErrCloseTelemetry ErrorCode = "close_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrInvalidState:         "Operation not valid in current state",
	ErrInvalidConfig:        "Invalid configuration",
	ErrBindFlags:            "Failed to bind flags",
	ErrReadConfig:           "Failed to read config file",
	ErrInvalidLogLevel:      "Invalid log level",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrDevice:               "Device operation failed",
	ErrCounterDiscontinuity: "Counter discontinuity detected",
	ErrTickTimeout:          "Device call timed out",
	ErrInitApp:              "Failed to initialize application",
	ErrLoopFailed:           "Control loop failed",
	ErrOperationFailed:      "Operation failed",
	ErrTimeout:              "Operation timed out",
	ErrInitTelemetry:        "Failed to initialize telemetry",
	ErrRecordEvent:          "Failed to record event",
	ErrCloseTelemetry:       "Failed to close telemetry",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
