package task

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRevoked  State = "REVOKED"
)

// Terminal reports whether no further state transitions are allowed.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateProgress, StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// ValidTransition enforces the allowed record state machine edges.
func ValidTransition(from, to State) bool {
	switch from {
	case StatePending:
		// FAILURE straight from PENDING covers descriptors that turn out
		// to be unusable before any step runs.
		return to == StateProgress || to == StateRevoked || to == StateFailure
	case StateProgress:
		return to == StateProgress || to == StateSuccess || to == StateFailure || to == StateRevoked
	default:
		return false
	}
}

// Output is one file produced by a pipeline run.
type Output struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Kind     string `json:"kind"` // video, short, subtitles, metadata
	RemoteID string `json:"remoteId,omitempty"`
}

// Result is populated only when a record reaches SUCCESS.
type Result struct {
	Outputs []Output `json:"outputs"`
}

// ErrorInfo is populated only when a record reaches FAILURE.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// Record is the persisted representation of one pipeline execution.
// The executor that claimed the task is the only writer; everyone else
// reads snapshots through the broker store.
type Record struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
}

// NewRecord creates a pending record with a fresh task ID.
func NewRecord() *Record {
	return &Record{
		ID:        shortuuid.New(),
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy so stored snapshots are never shared
// with a mutating executor.
func (r *Record) Clone() *Record {
	c := *r
	if r.Result != nil {
		res := Result{Outputs: append([]Output(nil), r.Result.Outputs...)}
		c.Result = &res
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}
