package metrics

import "codeberg.org/mutker/vawtctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("metrics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("metrics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("metrics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("metrics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("metrics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrQueryFailed  = errors.ErrorCode("metrics_query_failed")

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed
	ErrClosed          = errors.ErrorCode("metrics_collector_closed")

	// Collection Errors
	ErrSampleCollection = errors.ErrorCode("metrics_sample_collection_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
