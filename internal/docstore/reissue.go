package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const reissueKey = "document:reissue:pending"

// ReissueJob asks the worker to re-render and attach the document for a
// ticket's current owner. Attempts counts prior failures.
type ReissueJob struct {
	TicketID string `json:"ticket_id"`
	Attempts int    `json:"attempts"`
}

// ReissueQueue buffers document reissue work. The sale is already committed
// when a job is enqueued; the queue only guarantees the buyer eventually
// holds a valid document.
type ReissueQueue interface {
	Enqueue(ctx context.Context, job ReissueJob) error
	Dequeue(ctx context.Context) (*ReissueJob, error)
	Len(ctx context.Context) (int64, error)
}

// RedisReissueQueue persists jobs in a Redis list so pending reissues
// survive a restart.
type RedisReissueQueue struct {
	redis *redis.Client
}

func NewRedisReissueQueue(redisClient *redis.Client) *RedisReissueQueue {
	return &RedisReissueQueue{redis: redisClient}
}

func (q *RedisReissueQueue) Enqueue(ctx context.Context, job ReissueJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.LPush(ctx, reissueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue reissue job: %w", err)
	}
	return nil
}

func (q *RedisReissueQueue) Dequeue(ctx context.Context) (*ReissueJob, error) {
	data, err := q.redis.RPop(ctx, reissueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue reissue job: %w", err)
	}

	var job ReissueJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode reissue job: %w", err)
	}
	return &job, nil
}

func (q *RedisReissueQueue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, reissueKey).Result()
}

// MemoryReissueQueue backs tests and the local development driver.
type MemoryReissueQueue struct {
	mu   sync.Mutex
	jobs []ReissueJob
}

func NewMemoryReissueQueue() *MemoryReissueQueue {
	return &MemoryReissueQueue{}
}

func (q *MemoryReissueQueue) Enqueue(ctx context.Context, job ReissueJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MemoryReissueQueue) Dequeue(ctx context.Context) (*ReissueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return &job, nil
}

func (q *MemoryReissueQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

// BufferedReissueQueue decorates a ReissueQueue so an enqueue never loses a
// job: when the backing queue is unreachable (the usual reason a document
// write failed in the first place), the job is held in process and handed to
// the backing queue ahead of the next dequeue. Enqueue therefore never
// returns an error.
type BufferedReissueQueue struct {
	inner ReissueQueue

	mu   sync.Mutex
	held []ReissueJob
}

func NewBufferedReissueQueue(inner ReissueQueue) *BufferedReissueQueue {
	return &BufferedReissueQueue{inner: inner}
}

func (q *BufferedReissueQueue) Enqueue(ctx context.Context, job ReissueJob) error {
	if err := q.inner.Enqueue(ctx, job); err != nil {
		slog.Warn("reissue queue unreachable, holding job in process",
			"ticketID", job.TicketID,
			"error", err,
		)
		q.mu.Lock()
		q.held = append(q.held, job)
		q.mu.Unlock()
	}
	return nil
}

func (q *BufferedReissueQueue) Dequeue(ctx context.Context) (*ReissueJob, error) {
	q.flush(ctx)

	q.mu.Lock()
	if len(q.held) > 0 {
		job := q.held[0]
		q.held = q.held[1:]
		q.mu.Unlock()
		return &job, nil
	}
	q.mu.Unlock()

	return q.inner.Dequeue(ctx)
}

func (q *BufferedReissueQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	held := int64(len(q.held))
	q.mu.Unlock()

	depth, err := q.inner.Len(ctx)
	if err != nil {
		return held, nil
	}
	return depth + held, nil
}

// flush moves held jobs back to the backing queue so they regain
// durability. Jobs that still cannot be handed over stay held.
func (q *BufferedReissueQueue) flush(ctx context.Context) {
	q.mu.Lock()
	held := q.held
	q.held = nil
	q.mu.Unlock()

	for i, job := range held {
		if err := q.inner.Enqueue(ctx, job); err != nil {
			q.mu.Lock()
			q.held = append(held[i:], q.held...)
			q.mu.Unlock()
			return
		}
	}
}

// AttachFunc performs one reissue attempt for a ticket.
type AttachFunc func(ctx context.Context, ticketID string) error

// ReissueWorker drains the queue on an interval. Failed jobs go back with a
// bumped attempt count until the cap, then are dropped with a log line; the
// ticket itself stays valid throughout.
type ReissueWorker struct {
	queue       ReissueQueue
	attach      AttachFunc
	interval    time.Duration
	maxAttempts int
}

func NewReissueWorker(queue ReissueQueue, attach AttachFunc, interval time.Duration, maxAttempts int) *ReissueWorker {
	return &ReissueWorker{
		queue:       queue,
		attach:      attach,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Run blocks until ctx is done. Start it as a goroutine from the bootstrap.
func (w *ReissueWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *ReissueWorker) drain(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			slog.Error("reissue dequeue failed", "error", err)
			return
		}
		if job == nil {
			return
		}

		if err := w.attach(ctx, job.TicketID); err != nil {
			job.Attempts++
			if job.Attempts >= w.maxAttempts {
				slog.Error("dropping reissue job after max attempts",
					"ticketID", job.TicketID,
					"attempts", job.Attempts,
					"error", err,
				)
				continue
			}
			slog.Warn("document reissue failed, re-queueing",
				"ticketID", job.TicketID,
				"attempts", job.Attempts,
				"error", err,
			)
			if err := w.queue.Enqueue(ctx, *job); err != nil {
				slog.Error("re-enqueue reissue job failed", "ticketID", job.TicketID, "error", err)
			}
			// Stop draining after a failure; the next tick retries.
			return
		}

		slog.Info("document reissued", "ticketID", job.TicketID)
	}
}
