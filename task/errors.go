package task

import "errors"

// Error kinds recorded in a failed record's error payload.
const (
	KindConfiguration = "ConfigurationError"
	KindRetriable     = "RetriableStepError"
	KindFatal         = "FatalStepError"
	KindTimeout       = "Timeout"
)

// ErrNotFound is returned by status queries for unknown or evicted task IDs.
var ErrNotFound = errors.New("task not found")

// ErrNotReady is returned by result queries while a task is still running.
var ErrNotReady = errors.New("task not ready")
