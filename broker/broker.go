package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videoflow/pipeline"
	"videoflow/task"
)

// ErrInvalidTransition is returned by Save when the write would move a
// record along an edge the state machine forbids. Terminal records are
// immutable: once SUCCESS, FAILURE or REVOKED is stored, no later write
// can replace it.
var ErrInvalidTransition = errors.New("invalid task state transition")

// guardTransition enforces the record state machine on writes. Same-state
// writes are snapshot refreshes (progress, message) and always pass.
func guardTransition(existing, next *task.Record) error {
	if existing.State == next.State {
		return nil
	}
	if !task.ValidTransition(existing.State, next.State) {
		return fmt.Errorf("%w: task %s cannot move %s -> %s",
			ErrInvalidTransition, next.ID, existing.State, next.State)
	}
	return nil
}

// Work is the descriptor transported from the dispatcher to a worker.
type Work struct {
	TaskID    string          `json:"taskId"`
	InputPath string          `json:"inputPath"`
	Pipeline  pipeline.Config `json:"pipeline"`
	// RemoveInput marks inputs the dispatcher staged itself (uploads),
	// which the worker deletes after a successful run.
	RemoveInput bool      `json:"removeInput,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Queue transports work descriptors. Delivery is at-least-once: a worker
// must treat re-delivered work for a terminal task as a no-op.
type Queue interface {
	Enqueue(ctx context.Context, w *Work) error
	// Dequeue blocks until work is available or the context is done.
	Dequeue(ctx context.Context) (*Work, error)
}

// Store persists task record snapshots and cancel flags so any process
// can answer status queries.
type Store interface {
	Save(ctx context.Context, rec *task.Record) error
	// Load returns task.ErrNotFound for unknown or evicted IDs.
	Load(ctx context.Context, id string) (*task.Record, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Broker is the combined queue and result store.
type Broker interface {
	Queue
	Store
	Close() error
}
