package handler

import (
	"context"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// BatchRunner starts, reads and cancels batch operations
type BatchRunner interface {
	Run(ctx context.Context, req payrollapp.BatchRequest) (*payroll.BatchOperation, *payroll.WorkflowError)
	Get(ctx context.Context, operationID string) (*payroll.BatchOperation, *payroll.WorkflowError)
	Cancel(ctx context.Context, operationID string, actor payroll.Actor) (*payroll.BatchOperation, *payroll.WorkflowError)
}

// BatchHandler serves batch operations
type BatchHandler struct {
	BaseHandler
	runner BatchRunner
}

// NewBatchHandler creates a BatchHandler
func NewBatchHandler(runner BatchRunner) *BatchHandler {
	return &BatchHandler{runner: runner}
}

// Create handles POST /batch-operations. Async operations answer 202 with the
// QUEUED operation, synchronous ones 200 with the finished operation.
func (h *BatchHandler) Create(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	var req payrollapp.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	req.Actor = actor
	req.RequestID = getRequestID(c)

	op, we := h.runner.Run(c.Request.Context(), req)
	if we != nil {
		h.WorkflowError(c, we)
		return
	}
	if op.Async && !op.Status.IsTerminal() {
		h.Accepted(c, op)
		return
	}
	h.Success(c, op)
}

// Get handles GET /batch-operations/:operation_id
func (h *BatchHandler) Get(c *gin.Context) {
	if _, ok := h.getActor(c); !ok {
		return
	}

	op, we := h.runner.Get(c.Request.Context(), c.Param("operation_id"))
	if we != nil {
		h.WorkflowError(c, we)
		return
	}
	h.Success(c, op)
}

// Cancel handles POST /batch-operations/:operation_id/cancel
func (h *BatchHandler) Cancel(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	op, we := h.runner.Cancel(c.Request.Context(), c.Param("operation_id"), actor)
	if we != nil {
		h.WorkflowError(c, we)
		return
	}
	h.Success(c, op)
}
