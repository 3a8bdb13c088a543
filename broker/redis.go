package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"videoflow/task"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix   = "videoflow:task:"
	cancelKeyPrefix = "videoflow:cancel:"
)

// Redis backs the queue with a Redis list and persists record snapshots
// as JSON values with a retention TTL.
type Redis struct {
	client   *redis.Client
	queueKey string
	ttl      time.Duration
}

func NewRedis(url, queueKey string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not reach redis: %w", err)
	}

	if ttl < 0 {
		ttl = 0 // keep records forever rather than reject every write
	}
	return &Redis{client: client, queueKey: queueKey, ttl: ttl}, nil
}

func (r *Redis) Enqueue(ctx context.Context, w *Work) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.queueKey, data).Err()
}

func (r *Redis) Dequeue(ctx context.Context) (*Work, error) {
	for {
		res, err := r.client.BRPop(ctx, time.Second, r.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		// BRPop returns [key, value].
		var w Work
		if err := json.Unmarshal([]byte(res[1]), &w); err != nil {
			return nil, fmt.Errorf("could not decode work descriptor: %w", err)
		}
		return &w, nil
	}
}

func (r *Redis) Save(ctx context.Context, rec *task.Record) error {
	// Read-then-write transition guard. Each record has a single writer
	// (its executor) plus the dispatcher before the claim, so the narrow
	// window here is acceptable; the guard exists to keep a terminal
	// snapshot from being clobbered, not to serialize writers.
	existing, err := r.Load(ctx, rec.ID)
	if err != nil && !errors.Is(err, task.ErrNotFound) {
		return err
	}
	if existing != nil {
		if err := guardTransition(existing, rec); err != nil {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, taskKeyPrefix+rec.ID, data, r.ttl).Err()
}

func (r *Redis) Load(ctx context.Context, id string) (*task.Record, error) {
	data, err := r.client.Get(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("could not decode task record: %w", err)
	}
	return &rec, nil
}

func (r *Redis) RequestCancel(ctx context.Context, id string) error {
	return r.client.Set(ctx, cancelKeyPrefix+id, "1", r.ttl).Err()
}

func (r *Redis) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKeyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
