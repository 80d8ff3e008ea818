package payroll

import (
	"context"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
)

// MetricsRecorder receives workflow measurements. telemetry.WorkflowMetrics implements it.
type MetricsRecorder interface {
	RecordTransition(ctx context.Context, from, to, trigger string, success bool, d time.Duration)
	RecordGeneration(ctx context.Context, docType string, success bool, d time.Duration)
	RecordQueueDepth(ctx context.Context, depth int)
	RecordBatchItem(ctx context.Context, opType string, success bool)
	RecordBatchFinished(ctx context.Context, opType, status string)
	RecordError(ctx context.Context, code, category string)
	RecordHealth(ctx context.Context, component string, level int)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(context.Context, string, string, string, bool, time.Duration) {}
func (noopRecorder) RecordGeneration(context.Context, string, bool, time.Duration) {}
func (noopRecorder) RecordQueueDepth(context.Context, int) {}
func (noopRecorder) RecordBatchItem(context.Context, string, bool) {}
func (noopRecorder) RecordBatchFinished(context.Context, string, string) {}
func (noopRecorder) RecordError(context.Context, string, string) {}
func (noopRecorder) RecordHealth(context.Context, string, int) {}

// StatusCounter adapts the document repository to the string-keyed counts the
// periodic metrics collector expects.
type StatusCounter struct {
	Repo payroll.DocumentRepository
}

// CountByStatus returns non-deleted document counts keyed by status name
func (c StatusCounter) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := c.Repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

// canOperate reports whether the actor may run day-to-day payroll operations
func canOperate(actor payroll.Actor) bool {
	return actor.HasRole(payroll.RolePayrollManager) || actor.IsAdmin() || actor.HasRole(payroll.RoleSystem)
}

func permissionError(actor payroll.Actor, operation string) *payroll.WorkflowError {
	if !actor.IsAuthenticated() {
		return payroll.NewWorkflowError(payroll.ErrCodeInsufficientPermissions,
			operation+" requires an authenticated actor", payroll.WithOperation(operation, "authorization"))
	}
	return payroll.NewWorkflowError(payroll.ErrCodeInsufficientPermissions,
		operation+" requires the payroll_manager or payroll_admin role",
		payroll.WithOperation(operation, "authorization"),
		payroll.WithActor(actor.ID.String()))
}

// withTimeout bounds a dependency call. A zero timeout leaves ctx unchanged.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
