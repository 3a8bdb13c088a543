package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"videoflow/artifact"
	"videoflow/broker"
	"videoflow/pipeline"
	"videoflow/task"
)

// Dispatcher is the front-facing entry point: it validates submissions,
// creates pending task records and enqueues work descriptors. It never
// executes steps itself.
type Dispatcher struct {
	store     broker.Store
	queue     broker.Queue
	artifacts *artifact.Store
}

func New(store broker.Store, queue broker.Queue, artifacts *artifact.Store) *Dispatcher {
	return &Dispatcher{
		store:     store,
		queue:     queue,
		artifacts: artifacts,
	}
}

// Submit validates the pipeline configuration, creates a PENDING record
// and enqueues the work. Invalid configurations fail before any record
// exists.
func (d *Dispatcher) Submit(ctx context.Context, inputPath string, cfg pipeline.Config, removeInput bool) (*task.Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rec := task.NewRecord()
	if err := d.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("could not persist task record: %w", err)
	}

	w := &broker.Work{
		TaskID:      rec.ID,
		InputPath:   inputPath,
		Pipeline:    cfg,
		RemoveInput: removeInput,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, w); err != nil {
		return nil, fmt.Errorf("could not enqueue task %s: %w", rec.ID, err)
	}

	log.Printf("Task %s submitted to queue.", rec.ID)
	return rec, nil
}

// Status returns the latest record snapshot.
func (d *Dispatcher) Status(ctx context.Context, id string) (*task.Record, error) {
	return d.store.Load(ctx, id)
}

// Result returns the record once it is terminal; before that it fails
// with task.ErrNotReady.
func (d *Dispatcher) Result(ctx context.Context, id string) (*task.Record, error) {
	rec, err := d.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.State.Terminal() {
		return nil, task.ErrNotReady
	}
	return rec, nil
}

// Cancel requests a best-effort cancellation. A task that has not been
// claimed yet is revoked immediately; a running task is revoked by its
// executor at the next step boundary.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	rec, err := d.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return fmt.Errorf("cannot cancel task in state: %s", rec.State)
	}
	if err := d.store.RequestCancel(ctx, id); err != nil {
		return err
	}
	if rec.State == task.StatePending {
		rec.State = task.StateRevoked
		rec.Message = "cancelled while queued"
		rec.CompletedAt = time.Now().UTC()
		if err := d.store.Save(ctx, rec); err != nil {
			return err
		}
	}
	log.Printf("Cancellation requested for task %s.", id)
	return nil
}

// Cleanup releases the task's working directory. It is idempotent and
// leaves the record itself untouched.
func (d *Dispatcher) Cleanup(ctx context.Context, id string) error {
	if _, err := d.store.Load(ctx, id); err != nil {
		return err
	}
	return d.artifacts.Release(id)
}
