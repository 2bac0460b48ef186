package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields. They are attached to the context logger and follow a unit
// of work (request, execution, partition) through the call chain.
const (
	FieldRequestID     = "request_id"
	FieldExecutionID   = "execution_id"
	FieldConfigID      = "config_id"
	FieldCorrelationID = "correlation_id"
	FieldPartitionKey  = "partition_key"
	FieldWorkerID      = "worker_id"
	FieldComponent     = "component"
	FieldFile          = "file_path"
)

// Metric fields. They are attached to one log line through an Entry and are
// meant for aggregation.
const (
	FieldDurationMs   = "duration_ms"
	FieldCount        = "count"
	FieldSize         = "size"
	FieldStatus       = "status"
	FieldRecordCount  = "records"
	FieldInvalidCount = "invalid"
	FieldErrorCount   = "error_count"
	FieldWarningCount = "warning_count"
)
