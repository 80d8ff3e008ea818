package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestQueue(t *testing.T, cfg Config, handler Handler, opts ...Option) (*Queue, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	store := kvstore.NewInMemoryStore[Task](0)
	t.Cleanup(func() { _ = store.Close() })
	q := New(cfg, handler, store, nil, append([]Option{WithSleeper(sleeper.Sleep)}, opts...)...)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, sleeper
}

func waitForStatus(t *testing.T, q *Queue, id string, status TaskStatus) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		got, err := q.Get(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func mustTask(t *testing.T, id string) *Task {
	t.Helper()
	task, err := NewTask(id, "generate", map[string]string{"document_id": id})
	require.NoError(t, err)
	return task
}

func TestQueue_RunsTask(t *testing.T) {
	var calls atomic.Int32
	q, sleeper := newTestQueue(t, Config{Workers: 2, MaxAttempts: 3, RetryDelay: time.Second},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			var payload map[string]string
			if err := task.DecodePayload(&payload); err != nil {
				return err
			}
			if payload["document_id"] != task.ID {
				return errors.New("payload mismatch")
			}
			calls.Add(1)
			return nil
		}))

	require.NoError(t, q.Enqueue(context.Background(), mustTask(t, "doc-1")))
	task := waitForStatus(t, q, "doc-1", TaskStatusSucceeded)

	assert.Equal(t, 1, task.Attempts)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.Delays())
	assert.Equal(t, int64(1), q.Stats().Succeeded)
}

func TestQueue_RetriesWithFixedDelay(t *testing.T) {
	var calls atomic.Int32
	q, sleeper := newTestQueue(t, Config{Workers: 1, MaxAttempts: 3, RetryDelay: 5 * time.Second},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			if calls.Add(1) < 3 {
				return errors.New("renderer busy")
			}
			return nil
		}))

	require.NoError(t, q.Enqueue(context.Background(), mustTask(t, "doc-1")))
	task := waitForStatus(t, q, "doc-1", TaskStatusSucceeded)

	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.Delays())
}

func TestQueue_DeadLettersAfterMaxAttempts(t *testing.T) {
	var deadCalls atomic.Int32
	var deadErr atomic.Value
	q, sleeper := newTestQueue(t, Config{Workers: 1, MaxAttempts: 2, RetryDelay: time.Second},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			return errors.New("storage down")
		}),
		WithDeadLetter(func(ctx context.Context, task *Task, err error) {
			deadCalls.Add(1)
			deadErr.Store(err.Error())
		}))

	require.NoError(t, q.Enqueue(context.Background(), mustTask(t, "doc-1")))
	task := waitForStatus(t, q, "doc-1", TaskStatusDead)

	assert.Equal(t, 2, task.Attempts)
	assert.Equal(t, "storage down", task.LastError)
	assert.Len(t, sleeper.Delays(), 1)
	require.Eventually(t, func() bool { return deadCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "storage down", deadErr.Load())

	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "doc-1", dead[0].ID)
	assert.Equal(t, int64(1), q.Stats().DeadLettered)
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	q, sleeper := newTestQueue(t, Config{Workers: 1, MaxAttempts: 5, RetryDelay: time.Second},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			return Permanent(errors.New("employee inactive"))
		}))

	require.NoError(t, q.Enqueue(context.Background(), mustTask(t, "doc-1")))
	task := waitForStatus(t, q, "doc-1", TaskStatusDead)

	assert.Equal(t, 1, task.Attempts)
	assert.Empty(t, sleeper.Delays())
}

func TestQueue_PanicIsAFailure(t *testing.T) {
	q, _ := newTestQueue(t, Config{Workers: 1, MaxAttempts: 1},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			panic("boom")
		}))

	require.NoError(t, q.Enqueue(context.Background(), mustTask(t, "doc-1")))
	task := waitForStatus(t, q, "doc-1", TaskStatusDead)
	assert.Contains(t, task.LastError, "boom")
}

func TestQueue_CancelBeforeStart(t *testing.T) {
	release := make(chan struct{})
	var handled sync.Map
	q, _ := newTestQueue(t, Config{Workers: 1, Capacity: 10, MaxAttempts: 1},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			handled.Store(task.ID, true)
			if task.ID == "blocker" {
				<-release
			}
			return nil
		}))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mustTask(t, "blocker")))
	waitForStatus(t, q, "blocker", TaskStatusRunning)
	require.NoError(t, q.Enqueue(ctx, mustTask(t, "queued")))

	_, err := q.Cancel(ctx, "blocker")
	assert.ErrorIs(t, err, ErrTaskNotCancellable)

	task, err := q.Cancel(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, task.Status)

	_, err = q.Cancel(ctx, "queued")
	assert.ErrorIs(t, err, ErrTaskNotCancellable)
	_, err = q.Cancel(ctx, "unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	close(release)
	waitForStatus(t, q, "blocker", TaskStatusSucceeded)
	require.Eventually(t, func() bool { return q.Stats().Queued == 0 }, time.Second, 5*time.Millisecond)

	_, ran := handled.Load("queued")
	assert.False(t, ran)
	got, err := q.Get(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, got.Status)
	assert.Equal(t, int64(1), q.Stats().Cancelled)
}

func TestQueue_RejectsDuplicatesAndOverflow(t *testing.T) {
	release := make(chan struct{})
	q, _ := newTestQueue(t, Config{Workers: 1, Capacity: 1, MaxAttempts: 1},
		HandlerFunc(func(ctx context.Context, task *Task) error {
			<-release
			return nil
		}))
	defer close(release)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mustTask(t, "a")))
	waitForStatus(t, q, "a", TaskStatusRunning)

	assert.ErrorIs(t, q.Enqueue(ctx, mustTask(t, "a")), ErrTaskExists)
	require.NoError(t, q.Enqueue(ctx, mustTask(t, "b")))
	assert.ErrorIs(t, q.Enqueue(ctx, mustTask(t, "c")), ErrQueueFull)

	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, 5*time.Millisecond)
	stats := q.Stats()
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 2, stats.Depth())

	_, err := q.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueue_ReenqueueAfterFinish(t *testing.T) {
	q, _ := newTestQueue(t, Config{Workers: 1, MaxAttempts: 1},
		HandlerFunc(func(ctx context.Context, task *Task) error { return nil }))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mustTask(t, "a")))
	waitForStatus(t, q, "a", TaskStatusSucceeded)
	require.NoError(t, q.Enqueue(ctx, mustTask(t, "a")))
	waitForStatus(t, q, "a", TaskStatusSucceeded)

	require.NoError(t, q.Forget(ctx, "a"))
	_, err := q.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueue_NotRunning(t *testing.T) {
	store := kvstore.NewInMemoryStore[Task](0)
	defer store.Close()
	q := New(Config{}, HandlerFunc(func(context.Context, *Task) error { return nil }), store, nil)

	assert.ErrorIs(t, q.Enqueue(context.Background(), mustTask(t, "a")), ErrQueueNotRunning)
	assert.NoError(t, q.Stop(context.Background()))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad input")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}
