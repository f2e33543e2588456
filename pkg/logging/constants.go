// Package logging provides standardized logging utilities for the chunked upload engine.
// This file defines constants used throughout the logging package.
package logging

// Standard field names for logging
const (
	// Common field names
	FieldOperation = "operation"   // Higher-level operation
	FieldComponent = "component"   // Component or module
	FieldDuration  = "duration_ms" // Duration of operation in milliseconds
	FieldError     = "error"       // Error message
	FieldID        = "id"          // Identifier
	FieldStatus    = "status"      // Status code or string
	FieldSize      = "size"        // Size in bytes
	FieldRequestID = "request_id"  // Correlates log lines for one retry/upload attempt

	// Upload-domain field names
	FieldFileID      = "file_id"
	FieldFileName    = "file_name"
	FieldChunkIndex  = "chunk_index"
	FieldChunkCount  = "chunk_count"
	FieldTaskID      = "task_id"
	FieldRetryCount  = "retry_count"
	FieldDelay       = "delay_ms"
	FieldURL         = "url"
	FieldStatusCode  = "status_code"
	FieldErrorKind   = "error_kind"
	FieldConcurrency = "concurrency"
)
