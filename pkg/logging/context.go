// Package logging provides standardized logging utilities for the upload engine.
// This file defines the LogContext struct and related methods for context-based logging.
//
// LogContext carries the identifiers that matter for this domain — task, file and
// chunk index — through a call chain so every log line emitted while handling a
// chunk can be correlated back to the upload task that owns it.
package logging

// LogContext represents a logging context that can be passed between functions.
type LogContext struct {
	TaskID     string
	FileID     string
	ChunkIndex int
	Operation  string
	Component  string
	Additional map[string]interface{}
}

// NewLogContext creates a new LogContext with the given operation.
func NewLogContext(operation string) LogContext {
	return LogContext{
		Operation:  operation,
		ChunkIndex: -1,
		Additional: make(map[string]interface{}),
	}
}

// WithTaskID adds a task ID to the log context.
func (lc LogContext) WithTaskID(taskID string) LogContext {
	lc.TaskID = taskID
	return lc
}

// WithFileID adds a file ID to the log context.
func (lc LogContext) WithFileID(fileID string) LogContext {
	lc.FileID = fileID
	return lc
}

// WithChunkIndex adds a chunk index to the log context.
func (lc LogContext) WithChunkIndex(index int) LogContext {
	lc.ChunkIndex = index
	return lc
}

// WithComponent adds a component to the log context.
func (lc LogContext) WithComponent(component string) LogContext {
	lc.Component = component
	return lc
}

// With adds a custom field to the log context.
func (lc LogContext) With(key string, value interface{}) LogContext {
	lc.Additional[key] = value
	return lc
}

// Logger returns a Logger with the context fields added.
func (lc LogContext) Logger() Logger {
	return buildContextLogger(lc)
}

// WithLogContext creates a new Logger with the given context.
func WithLogContext(ctx LogContext) Logger {
	return buildContextLogger(ctx)
}

func buildContextLogger(ctx LogContext) Logger {
	logger := DefaultLogger.With()

	if ctx.TaskID != "" {
		logger = logger.Str(FieldTaskID, ctx.TaskID)
	}

	if ctx.FileID != "" {
		logger = logger.Str(FieldFileID, ctx.FileID)
	}

	if ctx.ChunkIndex >= 0 {
		logger = logger.Int(FieldChunkIndex, ctx.ChunkIndex)
	}

	if ctx.Operation != "" {
		logger = logger.Str(FieldOperation, ctx.Operation)
	}

	if ctx.Component != "" {
		logger = logger.Str(FieldComponent, ctx.Component)
	}

	for k, v := range ctx.Additional {
		logger = logger.Interface(k, v)
	}

	return logger.Logger()
}
