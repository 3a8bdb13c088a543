package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"videoflow/task"
)

// Memory is an in-process broker for tests and single-binary deployments.
// Snapshots are deep-copied on save and load so readers never observe a
// record the executor is still mutating.
type Memory struct {
	queue   chan *Work
	mu      sync.Mutex // serializes Save so transition checks are atomic
	records sync.Map   // id -> *task.Record
	cancels sync.Map   // id -> struct{}
	ttl     time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		queue: make(chan *Work, 100),
		ttl:   ttl,
	}
}

// Start launches the retention reaper. Terminal records older than the
// TTL are evicted, after which lookups return NotFound. A non-positive
// TTL disables retention and keeps records forever.
func (m *Memory) Start(ctx context.Context) {
	if m.ttl <= 0 {
		log.Println("Result retention disabled, reaper not started")
		return
	}
	go m.reapLoop(ctx)
}

func (m *Memory) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Memory) reap() {
	m.records.Range(func(key, value interface{}) bool {
		rec := value.(*task.Record)
		if rec.State.Terminal() && time.Since(rec.CompletedAt) > m.ttl {
			log.Printf("Evicting expired record for task %s", rec.ID)
			m.records.Delete(key)
			m.cancels.Delete(key)
		}
		return true
	})
}

func (m *Memory) Enqueue(ctx context.Context, w *Work) error {
	select {
	case m.queue <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Work, error) {
	select {
	case w := <-m.queue:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Save(_ context.Context, rec *task.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.records.Load(rec.ID); ok {
		if err := guardTransition(val.(*task.Record), rec); err != nil {
			return err
		}
	}
	m.records.Store(rec.ID, rec.Clone())
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*task.Record, error) {
	val, ok := m.records.Load(id)
	if !ok {
		return nil, task.ErrNotFound
	}
	return val.(*task.Record).Clone(), nil
}

func (m *Memory) RequestCancel(_ context.Context, id string) error {
	m.cancels.Store(id, struct{}{})
	return nil
}

func (m *Memory) CancelRequested(_ context.Context, id string) (bool, error) {
	_, ok := m.cancels.Load(id)
	return ok, nil
}

func (m *Memory) Close() error { return nil }
