package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"videoflow/artifact"
	"videoflow/broker"
	"videoflow/config"
	"videoflow/pipeline"
	"videoflow/task"
)

// Executor runs one pipeline against one input video, owning all writes
// to the task record for the duration of the run.
type Executor struct {
	cfg       *config.Config
	store     broker.Store
	artifacts *artifact.Store

	// build resolves a pipeline configuration into steps. Swappable in
	// tests to inject stub steps.
	build func(pipeline.Config) ([]pipeline.Step, error)
}

func NewExecutor(cfg *config.Config, store broker.Store, artifacts *artifact.Store, deps pipeline.Deps) *Executor {
	return &Executor{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		build: func(c pipeline.Config) ([]pipeline.Step, error) {
			return pipeline.Build(c, deps)
		},
	}
}

// Execute drives a task to a terminal state and returns the final record.
// Re-delivered work for an already-terminal task is a no-op that simply
// re-reports the stored state.
func (e *Executor) Execute(ctx context.Context, w *broker.Work) (*task.Record, error) {
	rec, err := e.store.Load(ctx, w.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not load task %s: %w", w.TaskID, err)
	}
	if rec.State.Terminal() {
		log.Printf("Task %s re-delivered in terminal state %s, ignoring", rec.ID, rec.State)
		e.removeStaged(w)
		return rec, nil
	}

	if revoked, err := e.checkCancel(ctx, rec, nil); err != nil {
		return nil, err
	} else if revoked {
		e.removeStaged(w)
		return rec, nil
	}

	steps, err := e.build(w.Pipeline)
	if err != nil {
		// The dispatcher validates configurations, so reaching this means
		// the descriptor was corrupted in transit.
		e.finish(ctx, rec, task.StateFailure, &task.ErrorInfo{
			Kind:    task.KindConfiguration,
			Message: err.Error(),
		})
		e.removeStaged(w)
		return rec, nil
	}
	weights := pipeline.Weights(len(steps))

	start := time.Now()
	rec.State = task.StateProgress
	rec.StartedAt = start.UTC()
	rec.Progress = 0
	rec.Message = "starting pipeline"
	if err := e.store.Save(ctx, rec); err != nil {
		if errors.Is(err, broker.ErrInvalidTransition) {
			// The dispatcher revoked the task between our load and the
			// claim; the stored terminal record wins.
			if stored, lerr := e.store.Load(ctx, rec.ID); lerr == nil {
				log.Printf("Task %s reached state %s before the claim, ignoring", stored.ID, stored.State)
				e.removeStaged(w)
				return stored, nil
			}
		}
		return nil, fmt.Errorf("could not claim task %s: %w", rec.ID, err)
	}
	log.Printf("Task %s claimed, %d steps", rec.ID, len(steps))

	// Steps run under the hard budget so a wedged external process is
	// killed rather than blocking the worker past the limit.
	runCtx, cancelRun := context.WithDeadline(ctx, start.Add(e.cfg.HardTimeLimit))
	defer cancelRun()

	x := pipeline.NewExchange(w.TaskID, e.artifacts, w.InputPath)
	softWarned := false

	for i, st := range steps {
		if revoked, err := e.checkCancel(ctx, rec, x); err != nil {
			return nil, err
		} else if revoked {
			e.removeStaged(w)
			return rec, nil
		}

		elapsed := time.Since(start)
		if elapsed > e.cfg.HardTimeLimit {
			// Artifacts produced so far are preserved for diagnosis;
			// only an explicit cleanup removes them.
			e.finish(ctx, rec, task.StateFailure, &task.ErrorInfo{
				Kind:    task.KindTimeout,
				Message: fmt.Sprintf("hard time limit %s exceeded after %s", e.cfg.HardTimeLimit, elapsed.Round(time.Second)),
				Step:    string(st.Kind()),
			})
			e.removeStaged(w)
			return rec, nil
		}
		if !softWarned && elapsed > e.cfg.SoftTimeLimit {
			softWarned = true
			log.Printf("Task %s exceeded soft time limit %s", rec.ID, e.cfg.SoftTimeLimit)
		}

		rec.Message = st.Description()
		if err := e.store.Save(ctx, rec); err != nil {
			log.Printf("Task %s: could not persist progress: %v", rec.ID, err)
		}

		if err := e.runStep(runCtx, st, x); err != nil {
			if ctx.Err() != nil {
				// Worker shutdown mid-step: leave the record non-terminal
				// so the task is picked up again on re-delivery.
				return nil, fmt.Errorf("task %s interrupted: %w", rec.ID, ctx.Err())
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				e.finish(ctx, rec, task.StateFailure, &task.ErrorInfo{
					Kind:    task.KindTimeout,
					Message: fmt.Sprintf("hard time limit %s exceeded during %s", e.cfg.HardTimeLimit, st.Kind()),
					Step:    string(st.Kind()),
				})
				e.removeStaged(w)
				return rec, nil
			}
			e.finish(ctx, rec, task.StateFailure, &task.ErrorInfo{
				Kind:    task.KindFatal,
				Message: err.Error(),
				Step:    string(st.Kind()),
			})
			x.CleanupIntermediates()
			e.removeStaged(w)
			return rec, nil
		}

		rec.Progress += weights[i]
		rec.Message = fmt.Sprintf("%s complete", st.Kind())
		if softWarned {
			rec.Message += " (soft time limit exceeded)"
		}
		if err := e.store.Save(ctx, rec); err != nil {
			log.Printf("Task %s: could not persist progress: %v", rec.ID, err)
		}
	}

	if x.Current != w.InputPath && !hasOutput(x.Outputs, x.Current) {
		x.AddOutput(task.Output{Name: filepath.Base(x.Current), Path: x.Current, Kind: "video"})
	}
	rec.Result = &task.Result{Outputs: x.Outputs}
	e.finish(ctx, rec, task.StateSuccess, nil)
	x.CleanupIntermediates()
	e.removeStaged(w)
	return rec, nil
}

// removeStaged deletes an input the dispatcher staged itself (an upload).
// It runs on every terminal path so staged files cannot accumulate; inputs
// submitted by path belong to the caller and are never touched.
func (e *Executor) removeStaged(w *broker.Work) {
	if !w.RemoveInput {
		return
	}
	if err := os.Remove(w.InputPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Task %s: could not remove staged input: %v", w.TaskID, err)
	}
}

// runStep invokes a step, retrying retriable failures up to the budget.
// Exhausted retries escalate to a fatal failure.
func (e *Executor) runStep(ctx context.Context, st pipeline.Step, x *pipeline.Exchange) error {
	attempts := 1 + e.cfg.StepRetries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = e.runOnce(ctx, st, x)
		if err == nil {
			return nil
		}
		var stepErr *pipeline.StepError
		if !errors.As(err, &stepErr) || !stepErr.Retriable {
			return err
		}
		log.Printf("Task %s: step %s attempt %d/%d failed: %v", x.TaskID, st.Kind(), attempt, attempts, err)
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}

// runOnce invokes a single step attempt, converting panics into fatal step
// errors so one misbehaving step cannot take the worker process down and
// strand the record in PROGRESS.
func (e *Executor) runOnce(ctx context.Context, st pipeline.Step, x *pipeline.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Task %s: step %s panicked: %v\n%s", x.TaskID, st.Kind(), r, debug.Stack())
			err = &pipeline.StepError{Step: st.Kind(), Err: fmt.Errorf("step panicked: %v", r)}
		}
	}()
	return st.Run(ctx, x)
}

// checkCancel transitions the record to REVOKED when a cancel was
// requested. Returns true if the task was revoked.
func (e *Executor) checkCancel(ctx context.Context, rec *task.Record, x *pipeline.Exchange) (bool, error) {
	requested, err := e.store.CancelRequested(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("could not read cancel flag for task %s: %w", rec.ID, err)
	}
	if !requested {
		return false, nil
	}
	log.Printf("Task %s cancelled", rec.ID)
	e.finish(ctx, rec, task.StateRevoked, nil)
	if x != nil {
		x.CleanupIntermediates()
	}
	return true, nil
}

// finish records a terminal state. Persistence failures here are logged,
// not propagated: the terminal decision already stands.
func (e *Executor) finish(ctx context.Context, rec *task.Record, state task.State, errInfo *task.ErrorInfo) {
	rec.State = state
	rec.Error = errInfo
	rec.CompletedAt = time.Now().UTC()
	switch state {
	case task.StateSuccess:
		rec.Message = "pipeline complete"
	case task.StateFailure:
		rec.Message = errInfo.Message
	case task.StateRevoked:
		rec.Message = "cancelled"
	}
	if err := e.store.Save(ctx, rec); err != nil {
		log.Printf("Task %s: could not persist terminal state %s: %v", rec.ID, state, err)
	}
	log.Printf("Task %s finished in state %s", rec.ID, state)
}

func hasOutput(outputs []task.Output, path string) bool {
	for _, o := range outputs {
		if o.Path == path {
			return true
		}
	}
	return false
}
