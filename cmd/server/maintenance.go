package main

import (
	"context"
	"fmt"
	"time"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/erp/payroll/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// startMaintenance launches the nightly maintenance jobs and returns their shutdown func
func startMaintenance(ctx context.Context, cfg config.MaintenanceConfig, health *payrollapp.HealthReporter, log *zap.Logger) (func(), error) {
	hour, minute, err := scheduler.ParseCronSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if _, err := payrollapp.ParseMaintenanceActions(cfg.Actions); err != nil {
		return nil, err
	}

	jobs := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Workers:       cfg.Workers,
		JobTimeout:    cfg.JobTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, payrollapp.NewMaintenanceJobs(health, log), log)
	if err := jobs.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	trigger := scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
		Hour:   hour,
		Minute: minute,
		Jobs:   cfg.Actions,
	}, jobs, log)
	if err := trigger.Start(ctx); err != nil {
		_ = jobs.Stop(ctx)
		return nil, fmt.Errorf("failed to start maintenance trigger: %w", err)
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := trigger.Stop(stopCtx); err != nil {
			log.Warn("Maintenance trigger stop timed out", zap.Error(err))
		}
		if err := jobs.Stop(stopCtx); err != nil {
			log.Warn("Maintenance scheduler stop timed out", zap.Error(err))
		}
	}, nil
}
