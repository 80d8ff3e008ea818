// Package taskqueue is a bounded in-process worker queue with fixed-delay retries,
// a capped attempt count and a dead letter state. Task state lives in a keyed store
// so it is inspectable by id and, with a shared store, visible to every instance.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"go.uber.org/zap"
)

// Handler executes a task. Returning an error schedules a retry unless the
// error is Permanent or attempts are exhausted.
type Handler interface {
	Handle(ctx context.Context, task *Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task *Task) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, task *Task) error {
	return f(ctx, task)
}

// DeadLetterFunc is called once when a task exhausts its attempts or fails permanently
type DeadLetterFunc func(ctx context.Context, task *Task, err error)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper is the default Sleeper
func ContextSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config holds queue configuration
type Config struct {
	Workers     int
	Capacity    int
	MaxAttempts int
	RetryDelay  time.Duration
	TaskTimeout time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() Config {
	return Config{
		Workers:     5,
		Capacity:    100,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
		TaskTimeout: 2 * time.Minute,
	}
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Queued       int   `json:"queued"`
	Running      int   `json:"running"`
	Retrying     int   `json:"retrying"`
	Succeeded    int64 `json:"succeeded"`
	DeadLettered int64 `json:"dead_lettered"`
	Cancelled    int64 `json:"cancelled"`
}

// Depth is the number of tasks not yet finished
func (s Stats) Depth() int {
	return s.Queued + s.Running + s.Retrying
}

// Option configures a Queue
type Option func(*Queue)

// WithSleeper replaces the retry delay sleeper
func WithSleeper(sleeper Sleeper) Option {
	return func(q *Queue) {
		q.sleep = sleeper
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithDeadLetter sets the dead letter callback
func WithDeadLetter(fn DeadLetterFunc) Option {
	return func(q *Queue) {
		q.onDead = fn
	}
}

// Queue runs tasks on a fixed pool of workers
type Queue struct {
	config  Config
	handler Handler
	store   shared.KeyedStore[Task]
	logger  *zap.Logger
	sleep   Sleeper
	now     func() time.Time
	onDead  DeadLetterFunc

	tasks  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stateMu serializes status changes so a task is either cancelled or started, never both
	stateMu   sync.Mutex
	mu        sync.Mutex
	isRunning bool

	running      atomic.Int64
	retrying     atomic.Int64
	succeeded    atomic.Int64
	deadLettered atomic.Int64
	cancelled    atomic.Int64
}

// New creates a queue. The store holds task state keyed by task id.
func New(cfg Config, handler Handler, store shared.KeyedStore[Task], logger *zap.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		config:  cfg,
		handler: handler,
		store:   store,
		logger:  logger,
		sleep:   ContextSleeper,
		now:     time.Now,
		tasks:   make(chan string, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return nil
	}
	q.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("Task queue started",
		zap.Int("workers", q.config.Workers),
		zap.Int("capacity", q.config.Capacity),
		zap.Int("max_attempts", q.config.MaxAttempts),
		zap.Duration("retry_delay", q.config.RetryDelay),
	)
	return nil
}

// Stop cancels workers and pending retries and waits for in-flight tasks
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Task queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Task queue stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether workers are active
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// Enqueue stores the task as pending and hands it to the workers
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if !q.IsRunning() {
		return ErrQueueNotRunning
	}

	q.stateMu.Lock()
	existing, err := q.store.Get(ctx, task.ID)
	switch {
	case err == nil && existing.Status.IsActive():
		q.stateMu.Unlock()
		return ErrTaskExists
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		q.stateMu.Unlock()
		return fmt.Errorf("failed to load task %s: %w", task.ID, err)
	}

	task.Status = TaskStatusPending
	task.Attempts = 0
	task.MaxAttempts = q.config.MaxAttempts
	task.EnqueuedAt = q.now()
	task.NextRunAt = nil
	task.StartedAt = nil
	task.CompletedAt = nil
	task.LastError = ""

	if len(q.tasks) >= cap(q.tasks) {
		q.stateMu.Unlock()
		return ErrQueueFull
	}
	if err := q.store.Set(ctx, task.ID, task); err != nil {
		q.stateMu.Unlock()
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	q.stateMu.Unlock()

	select {
	case q.tasks <- task.ID:
		q.logger.Debug("Task enqueued", zap.String("task_id", task.ID), zap.String("kind", task.Kind))
		return nil
	default:
		_ = q.store.Delete(ctx, task.ID)
		return ErrQueueFull
	}
}

// Cancel cancels a task that has not started yet
func (q *Queue) Cancel(ctx context.Context, id string) (*Task, error) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	task, err := q.store.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	if task.Status != TaskStatusPending || task.Attempts > 0 {
		return task, ErrTaskNotCancellable
	}
	task.cancel(q.now())
	if err := q.store.Set(ctx, id, task); err != nil {
		return nil, fmt.Errorf("failed to store task %s: %w", id, err)
	}
	q.cancelled.Add(1)
	q.logger.Info("Task cancelled", zap.String("task_id", id))
	return task, nil
}

// Get returns the task state
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	task, err := q.store.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// DeadLetters returns tasks that exhausted their attempts
func (q *Queue) DeadLetters(ctx context.Context) ([]*Task, error) {
	return q.store.ListByPredicate(ctx, func(t *Task) bool { return t.Status == TaskStatusDead })
}

// Forget drops a finished task from the store
func (q *Queue) Forget(ctx context.Context, id string) error {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	task, err := q.store.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if task.Status.IsActive() {
		return ErrTaskNotCancellable
	}
	return q.store.Delete(ctx, id)
}

// Stats returns the current counters
func (q *Queue) Stats() Stats {
	return Stats{
		Queued:       len(q.tasks),
		Running:      int(q.running.Load()),
		Retrying:     int(q.retrying.Load()),
		Succeeded:    q.succeeded.Load(),
		DeadLettered: q.deadLettered.Load(),
		Cancelled:    q.cancelled.Load(),
	}
}

func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.tasks:
			q.process(ctx, id, workerID)
		}
	}
}

// claim moves a pending task to running, or returns nil when it was cancelled meanwhile
func (q *Queue) claim(ctx context.Context, id string) *Task {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	task, err := q.store.Get(ctx, id)
	if err != nil {
		q.logger.Warn("Dropping task without state", zap.String("task_id", id), zap.Error(err))
		return nil
	}
	if task.Status != TaskStatusPending {
		q.logger.Debug("Skipping task", zap.String("task_id", id), zap.String("status", string(task.Status)))
		return nil
	}
	task.start(q.now())
	if err := q.store.Set(ctx, id, task); err != nil {
		q.logger.Error("Failed to mark task running", zap.String("task_id", id), zap.Error(err))
		return nil
	}
	return task
}

func (q *Queue) process(ctx context.Context, id string, workerID int) {
	task := q.claim(ctx, id)
	if task == nil {
		return
	}

	q.running.Add(1)
	taskCtx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	err := q.safeHandle(taskCtx, task)
	cancel()
	q.running.Add(-1)

	if err == nil {
		task.succeed(q.now())
		q.save(ctx, task)
		q.succeeded.Add(1)
		q.logger.Debug("Task completed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Int("attempts", task.Attempts))
		return
	}

	// shutdown is not a task failure; the pending state lets a restart pick it up
	if ctx.Err() != nil {
		task.scheduleRetry(err, q.now())
		q.save(context.WithoutCancel(ctx), task)
		return
	}

	if IsPermanent(err) || !task.CanRetry() {
		task.kill(err, q.now())
		q.save(ctx, task)
		q.deadLettered.Add(1)
		q.logger.Error("Task dead-lettered",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err))
		if q.onDead != nil {
			q.onDead(ctx, task, err)
		}
		return
	}

	task.scheduleRetry(err, q.now().Add(q.config.RetryDelay))
	q.save(ctx, task)
	q.logger.Warn("Task failed, retry scheduled",
		zap.String("task_id", task.ID),
		zap.Int("attempt", task.Attempts),
		zap.Int("max_attempts", task.MaxAttempts),
		zap.Duration("delay", q.config.RetryDelay),
		zap.Error(err))

	q.retrying.Add(1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.retrying.Add(-1)
		if err := q.sleep(ctx, q.config.RetryDelay); err != nil {
			return
		}
		select {
		case q.tasks <- task.ID:
		case <-ctx.Done():
		}
	}()
}

func (q *Queue) safeHandle(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return q.handler.Handle(ctx, task)
}

func (q *Queue) save(ctx context.Context, task *Task) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if err := q.store.Set(ctx, task.ID, task); err != nil {
		q.logger.Error("Failed to store task state", zap.String("task_id", task.ID), zap.Error(err))
	}
}
