package docstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ref, err := store.Store(ctx, []byte("row 4 seat 12"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, 1, store.Len())

	data, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("row 4 seat 12"), data)

	_, err = store.Fetch(ctx, "missing-ref")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestRedisStore_Store(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	store := NewRedisStore(db)

	mock.Regexp().ExpectSet(`^document:[0-9A-F]{32}$`, `.*`, 0).SetVal("OK")

	ref, err := store.Store(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Len(t, ref, 32)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Fetch(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	store := NewRedisStore(db)

	mock.ExpectGet("document:ABCDEF").SetVal("payload")

	data, err := store.Fetch(context.Background(), "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	mock.ExpectGet("document:MISSING").RedisNil()

	_, err = store.Fetch(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRender_Unwrap(t *testing.T) {
	issuedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte("row 4 seat 12")

	data, err := Render("tkt_1", "evt_1", "alice", issuedAt, payload)
	require.NoError(t, err)

	env, err := Unwrap(data)
	require.NoError(t, err)
	assert.Equal(t, "tkt_1", env.TicketID)
	assert.Equal(t, "evt_1", env.EventID)
	assert.Equal(t, "alice", env.IssuedTo)
	assert.Equal(t, issuedAt, env.IssuedAt)
	assert.Equal(t, payload, env.Payload)

	digest := sha3.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(digest[:]), env.PayloadDigest)
}

func TestUnwrap_Garbage(t *testing.T) {
	_, err := Unwrap([]byte("not json"))
	assert.Error(t, err)
}

func TestRedisReissueQueue_EnqueueDequeue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	queue := NewRedisReissueQueue(db)
	ctx := context.Background()

	job := ReissueJob{TicketID: "tkt_1", Attempts: 2}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectLPush(reissueKey, data).SetVal(1)
	require.NoError(t, queue.Enqueue(ctx, job))

	mock.ExpectRPop(reissueKey).SetVal(string(data))
	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job, *got)

	mock.ExpectRPop(reissueKey).RedisNil()
	got, err = queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectLLen(reissueKey).SetVal(3)
	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)

	assert.NoError(t, mock.ExpectationsWereMet())
}

type outageQueue struct {
	mu    sync.Mutex
	down  bool
	inner *MemoryReissueQueue
}

func (q *outageQueue) setDown(down bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.down = down
}

func (q *outageQueue) failing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.down
}

func (q *outageQueue) Enqueue(ctx context.Context, job ReissueJob) error {
	if q.failing() {
		return errors.New("connection refused")
	}
	return q.inner.Enqueue(ctx, job)
}

func (q *outageQueue) Dequeue(ctx context.Context) (*ReissueJob, error) {
	if q.failing() {
		return nil, errors.New("connection refused")
	}
	return q.inner.Dequeue(ctx)
}

func (q *outageQueue) Len(ctx context.Context) (int64, error) {
	if q.failing() {
		return 0, errors.New("connection refused")
	}
	return q.inner.Len(ctx)
}

func TestBufferedReissueQueue_HoldsJobsThroughOutage(t *testing.T) {
	backing := &outageQueue{inner: NewMemoryReissueQueue(), down: true}
	queue := NewBufferedReissueQueue(backing)
	ctx := context.Background()

	// The backing queue is unreachable; the job must be held, not lost.
	require.NoError(t, queue.Enqueue(ctx, ReissueJob{TicketID: "tkt_1"}))
	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	// Held jobs stay dequeuable during the outage so retries keep running.
	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tkt_1", job.TicketID)
	require.NoError(t, queue.Enqueue(ctx, *job))

	// Once the backing queue recovers, held jobs regain durability.
	backing.setDown(false)
	job, err = queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tkt_1", job.TicketID)

	depth, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depth)
}

func TestBufferedReissueQueue_PassThrough(t *testing.T) {
	backing := &outageQueue{inner: NewMemoryReissueQueue()}
	queue := NewBufferedReissueQueue(backing)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, ReissueJob{TicketID: "tkt_1"}))

	// Healthy path goes straight to the backing queue.
	depth, err := backing.inner.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tkt_1", job.TicketID)
}

func TestReissueWorker_Drain_Success(t *testing.T) {
	queue := NewMemoryReissueQueue()
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, ReissueJob{TicketID: "tkt_1"}))
	require.NoError(t, queue.Enqueue(ctx, ReissueJob{TicketID: "tkt_2"}))

	var attached []string
	worker := NewReissueWorker(queue, func(ctx context.Context, ticketID string) error {
		attached = append(attached, ticketID)
		return nil
	}, time.Minute, 3)

	worker.drain(ctx)

	assert.Equal(t, []string{"tkt_1", "tkt_2"}, attached)
	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depth)
}

func TestReissueWorker_Drain_RequeuesThenDrops(t *testing.T) {
	queue := NewMemoryReissueQueue()
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, ReissueJob{TicketID: "tkt_1"}))

	var attempts int
	worker := NewReissueWorker(queue, func(ctx context.Context, ticketID string) error {
		attempts++
		return errors.New("store still down")
	}, time.Minute, 2)

	// First pass fails and re-queues with a bumped attempt count.
	worker.drain(ctx)
	assert.Equal(t, 1, attempts)
	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	// Second pass hits the cap and drops the job.
	worker.drain(ctx)
	assert.Equal(t, 2, attempts)
	depth, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depth)
}
