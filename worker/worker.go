package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"videoflow/broker"
)

// ResourceChecker gates task pickup on host headroom.
type ResourceChecker interface {
	CheckResources() error
}

// Worker pulls work from the broker queue and hands it to the executor,
// bounded by a concurrency semaphore.
type Worker struct {
	queue       broker.Queue
	exec        *Executor
	resources   ResourceChecker
	concurrency int
}

func NewWorker(queue broker.Queue, exec *Executor, resources ResourceChecker, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		exec:        exec,
		resources:   resources,
		concurrency: concurrency,
	}
}

func (w *Worker) Start(ctx context.Context) {
	log.Printf("Worker started. Concurrency limit: %d", w.concurrency)
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	sem := make(chan struct{}, w.concurrency)
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Println("Worker loop shutting down.")
				return
			}
			log.Printf("Dequeue error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		}

		go func(job *broker.Work) {
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

func (w *Worker) process(ctx context.Context, job *broker.Work) {
	w.waitForResources(ctx)

	rec, err := w.exec.Execute(ctx, job)
	if err != nil {
		log.Printf("Task %s execution error: %v", job.TaskID, err)
		return
	}
	log.Printf("Task %s processed, state %s", rec.ID, rec.State)
}

// waitForResources gives the host a few chances to free up before a heavy
// job starts; after that, we proceed anyway rather than stall the queue.
func (w *Worker) waitForResources(ctx context.Context) {
	if w.resources == nil {
		return
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := w.resources.CheckResources()
		if err == nil {
			return
		}
		log.Printf("Insufficient system resources (attempt %d): %v", attempt+1, err)
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
	log.Println("Proceeding despite resource pressure.")
}
