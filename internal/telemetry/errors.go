package telemetry

import "codeberg.org/mutker/cemctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit   = errors.ErrInitTelemetry
	ErrStorageClose  = errors.ErrCloseTelemetry

	// Collection Errors
	ErrRecordEvent  = errors.ErrRecordEvent
	ErrInvalidEvent = errors.ErrorCode("telemetry_invalid_event")
	ErrPublish      = errors.ErrorCode("telemetry_publish_failed")
	ErrConnect      = errors.ErrorCode("telemetry_connect_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
