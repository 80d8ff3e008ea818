package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidSchedule rejects anything but "minute hour * * *"
var ErrInvalidSchedule = errors.New("invalid schedule")

// ParseCronSchedule reads the minute and hour fields of a daily cron expression.
// An empty expression means 02:00.
func ParseCronSchedule(expr string) (hour, minute int, err error) {
	hour, minute = 2, 0
	parts := strings.Fields(expr)
	if len(parts) == 0 {
		return hour, minute, nil
	}
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: %q needs minute and hour fields", ErrInvalidSchedule, expr)
	}
	for _, rest := range parts[2:] {
		if rest != "*" {
			return 0, 0, fmt.Errorf("%w: only daily schedules are supported, got %q", ErrInvalidSchedule, expr)
		}
	}

	if minute, err = strconv.Atoi(parts[0]); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute must be 0-59, got %q", ErrInvalidSchedule, parts[0])
	}
	if hour, err = strconv.Atoi(parts[1]); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour must be 0-23, got %q", ErrInvalidSchedule, parts[1])
	}
	return hour, minute, nil
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	Hour          int
	Minute        int
	CheckInterval time.Duration
	// Jobs are submitted in order on every trigger
	Jobs []string
}

// CronTrigger submits a fixed set of jobs once a day
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, logger *zap.Logger) *CronTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
		now:       scheduler.now,
	}
}

// Start starts the trigger loop
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cron trigger started",
		zap.Int("hour", c.config.Hour),
		zap.Int("minute", c.config.Minute),
		zap.Strings("jobs", c.config.Jobs),
	)
	return nil
}

// Stop stops the trigger loop
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger(c.now())
		}
	}
}

// checkAndTrigger submits the jobs when now falls on the configured minute and
// they have not run yet that day. It reports whether it triggered.
func (c *CronTrigger) checkAndTrigger(now time.Time) bool {
	if now.Hour() != c.config.Hour || now.Minute() != c.config.Minute {
		return false
	}

	currentDate := now.Format("2006-01-02")
	c.mu.Lock()
	if c.lastRunDate == currentDate {
		c.mu.Unlock()
		return false
	}
	c.lastRunDate = currentDate
	c.mu.Unlock()

	c.logger.Info("Triggering scheduled jobs", zap.String("date", currentDate))
	c.TriggerNow()
	return true
}

// TriggerNow submits every configured job immediately
func (c *CronTrigger) TriggerNow() []*Job {
	jobs := make([]*Job, 0, len(c.config.Jobs))
	for _, name := range c.config.Jobs {
		job, err := c.scheduler.Submit(name)
		if err != nil {
			c.logger.Error("Failed to submit scheduled job",
				zap.String("job", name),
				zap.Error(err),
			)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
