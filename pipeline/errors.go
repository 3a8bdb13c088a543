package pipeline

import "fmt"

// ConfigError rejects an invalid pipeline configuration at submission
// time, before any task record exists.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid pipeline configuration: " + e.Reason
}

// StepError is the typed failure a step reports to the executor. The
// executor, not the step, decides whether to retry or abort.
type StepError struct {
	Step      Kind
	Retriable bool
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Retriable wraps a transient collaborator failure.
func Retriable(step Kind, err error) *StepError {
	return &StepError{Step: step, Retriable: true, Err: err}
}

// Fatal wraps a non-recoverable step failure.
func Fatal(step Kind, err error) *StepError {
	return &StepError{Step: step, Retriable: false, Err: err}
}
