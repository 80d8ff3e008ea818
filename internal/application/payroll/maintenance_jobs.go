package payroll

import (
	"context"
	"fmt"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// ParseMaintenanceActions checks configured action names against the known set
func ParseMaintenanceActions(names []string) ([]MaintenanceAction, error) {
	known := map[MaintenanceAction]bool{
		MaintenanceRefreshCache:        true,
		MaintenanceCleanupStorage:      true,
		MaintenanceRevalidateIntegrity: true,
		MaintenanceResetMetrics:        true,
	}
	actions := make([]MaintenanceAction, 0, len(names))
	for _, name := range names {
		action := MaintenanceAction(name)
		if !known[action] {
			return nil, fmt.Errorf("unknown maintenance action %q", name)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// MaintenanceJobs executes scheduled maintenance as the system actor
type MaintenanceJobs struct {
	reporter *HealthReporter
	logger   *zap.Logger
}

// NewMaintenanceJobs creates the scheduler executor for maintenance actions
func NewMaintenanceJobs(reporter *HealthReporter, logger *zap.Logger) *MaintenanceJobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceJobs{reporter: reporter, logger: logger}
}

// Execute implements scheduler.JobExecutor. The job name is the maintenance action.
func (m *MaintenanceJobs) Execute(ctx context.Context, job *scheduler.Job) error {
	result, werr := m.reporter.Maintain(ctx, MaintenanceRequest{
		Action:    MaintenanceAction(job.Name),
		Actor:     payroll.SystemActor(),
		RequestID: "job-" + job.ID.String(),
	})
	if werr != nil {
		return werr
	}
	m.logger.Info("Scheduled maintenance finished",
		zap.String("action", job.Name),
		zap.Int("affected", result.Affected),
		zap.String("message", result.Message),
	)
	return nil
}
