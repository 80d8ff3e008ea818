package handler

import (
	"context"
	"strings"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// DocumentGenerator produces documents and withdraws queued ones
type DocumentGenerator interface {
	Generate(ctx context.Context, req payrollapp.GenerationRequest) *payrollapp.GenerationResult
	CancelQueuedGeneration(ctx context.Context, documentID string, actor payroll.Actor, requestID string) (*payrollapp.TransitionResult, error)
}

// StatusTransitioner moves documents between statuses
type StatusTransitioner interface {
	Transition(ctx context.Context, req payrollapp.TransitionRequest) *payrollapp.TransitionResult
}

// StatusQuerier reads document state
type StatusQuerier interface {
	QueryDocumentStatus(ctx context.Context, q payrollapp.StatusQuery) (*payrollapp.DocumentStatusInfo, *payroll.WorkflowError)
}

// DocumentHandler serves document generation, transitions and status queries
type DocumentHandler struct {
	BaseHandler
	generator   DocumentGenerator
	transitions StatusTransitioner
	status      StatusQuerier
}

// NewDocumentHandler creates a DocumentHandler
func NewDocumentHandler(generator DocumentGenerator, transitions StatusTransitioner, status StatusQuerier) *DocumentHandler {
	return &DocumentHandler{generator: generator, transitions: transitions, status: status}
}

// Generate handles POST /documents/generate.
// 201 when the document was produced, 202 when it was queued.
func (h *DocumentHandler) Generate(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	var req payrollapp.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	req.Actor = actor
	req.RequestID = getRequestID(c)

	result := h.generator.Generate(c.Request.Context(), req)
	if !result.Success {
		h.WorkflowErrorWithData(c, result.Error, partialGeneration(result))
		return
	}
	if result.Queued {
		h.Accepted(c, result)
		return
	}
	h.Created(c, result)
}

// partialGeneration keeps the document reference of a failed generation so the
// caller can look up its FAILED status
func partialGeneration(result *payrollapp.GenerationResult) any {
	if result.DocumentID == "" {
		return nil
	}
	return gin.H{"document_id": result.DocumentID, "status": result.Status}
}

// failedTransition exposes the audit reference of a rejected attempt. The raw
// result is not returned because its error would bypass sanitization.
func failedTransition(result *payrollapp.TransitionResult) gin.H {
	return gin.H{
		"document_id":     result.DocumentID,
		"previous_status": result.PreviousStatus,
		"audit_id":        result.AuditID,
	}
}

// Transition handles POST /documents/:document_id/transitions
func (h *DocumentHandler) Transition(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	var body dto.TransitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	result := h.transitions.Transition(c.Request.Context(), payrollapp.TransitionRequest{
		DocumentID: c.Param("document_id"),
		Target:     payroll.DocumentStatus(strings.ToUpper(string(body.TargetStatus))),
		Actor:      actor,
		Trigger:    payroll.TriggerUserAction,
		Reason:     body.Reason,
		Comments:   body.Comments,
		Force:      body.Force,
		Recipients: body.Recipients,
		TrackingID: body.TrackingID,
		RequestID:  getRequestID(c),
	})
	if !result.Success {
		h.WorkflowErrorWithData(c, result.Error, failedTransition(result))
		return
	}
	h.Success(c, result)
}

// Status handles GET /documents/:document_id/status
func (h *DocumentHandler) Status(c *gin.Context) {
	if _, ok := h.getActor(c); !ok {
		return
	}

	var params dto.StatusQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	info, we := h.status.QueryDocumentStatus(c.Request.Context(), payrollapp.StatusQuery{
		DocumentID:     c.Param("document_id"),
		IncludeHistory: params.IncludeHistory,
		HistoryLimit:   params.HistoryLimit,
	})
	if we != nil {
		h.WorkflowError(c, we)
		return
	}
	h.Success(c, info)
}

// CancelGeneration handles DELETE /documents/:document_id/generation.
// Only documents still waiting in the queue can be withdrawn.
func (h *DocumentHandler) CancelGeneration(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	result, err := h.generator.CancelQueuedGeneration(c.Request.Context(), c.Param("document_id"), actor, getRequestID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !result.Success {
		h.WorkflowErrorWithData(c, result.Error, failedTransition(result))
		return
	}
	h.Success(c, result)
}
