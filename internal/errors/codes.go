package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig         ErrorCode = "invalid_configuration"
	ErrMissingConfig         ErrorCode = "missing_configuration"
	ErrBindFlags             ErrorCode = "bind_flags_failed"
	ErrReadConfig            ErrorCode = "read_config_failed"
	ErrInvalidInterval       ErrorCode = "invalid_interval"
	ErrInvalidTurbineConfig  ErrorCode = "invalid_turbine_configuration"
	ErrInvalidTransitionRule ErrorCode = "invalid_transition_rule"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrNotRunning     ErrorCode = "not_running"

	// Application errors
	ErrInitApp       ErrorCode = "init_app_failed"
	ErrMainLoop      ErrorCode = "main_loop_failed"
	ErrApplyCommand  ErrorCode = "apply_command_failed"
	ErrSensorStale   ErrorCode = "sensor_snapshot_stale"
	ErrNotFaulted    ErrorCode = "not_in_fault"
	ErrFaultActive   ErrorCode = "fault_condition_active"
	ErrNotStartable  ErrorCode = "not_startable"
	ErrAcknowledge   ErrorCode = "acknowledge_failed"
	ErrSourceFailed  ErrorCode = "sensor_source_failed"
	ErrPublishFailed ErrorCode = "publish_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"

	// Telemetry errors
	ErrInitTelemetry ErrorCode = "init_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:              "Internal error occurred",
	ErrInvalidArgument:       "Invalid argument provided",
	ErrNotImplemented:        "Operation not implemented",
	ErrUnavailable:           "Service unavailable",
	ErrInvalidConfig:         "Invalid configuration",
	ErrMissingConfig:         "Missing configuration",
	ErrBindFlags:             "Failed to bind flags",
	ErrReadConfig:            "Failed to read configuration",
	ErrInvalidInterval:       "Invalid interval value",
	ErrInvalidTurbineConfig:  "Invalid turbine configuration",
	ErrInvalidTransitionRule: "Invalid transition rule",
	ErrInvalidLogLevel:       "Invalid log level",
	ErrInitFailed:            "Initialization failed",
	ErrShutdownFailed:        "Shutdown failed",
	ErrAlreadyRunning:        "Another instance is already running",
	ErrNotRunning:            "No running instance found",
	ErrInitApp:               "Failed to initialize application",
	ErrMainLoop:              "Error in main loop",
	ErrApplyCommand:          "Failed to apply actuation command",
	ErrSensorStale:           "Sensor snapshot is stale",
	ErrNotFaulted:            "Turbine is not in fault",
	ErrFaultActive:           "Protection violation still active",
	ErrNotStartable:          "Turbine can only be started from idle",
	ErrAcknowledge:           "Failed to acknowledge fault",
	ErrSourceFailed:          "Sensor source failed",
	ErrPublishFailed:         "Failed to publish message",
	ErrOperationFailed:       "Operation failed",
	ErrTimeout:               "Operation timed out",
	ErrInvalidOperation:      "Invalid operation",
	ErrInitMetrics:           "Failed to initialize metrics",
	ErrCollectMetrics:        "Failed to collect metrics data",
	ErrCloseMetrics:          "Failed to close metrics connection",
	ErrInitTelemetry:         "Failed to initialize telemetry",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
