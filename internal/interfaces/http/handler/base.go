package handler

import (
	"errors"
	"net/http"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getActor returns the authenticated caller. Routes behind the Actor middleware
// always have one; a missing actor answers 401.
func (h *BaseHandler) getActor(c *gin.Context) (payroll.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok || !actor.IsAuthenticated() {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required")
		return payroll.Actor{}, false
	}
	return actor, true
}

// requestLanguage picks the response language from Accept-Language
func requestLanguage(c *gin.Context) language.Tag {
	return payroll.MatchLanguage(c.GetHeader("Accept-Language"))
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that continues in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// WorkflowError sends a workflow failure. The status follows the error code and
// the body is localized and sanitized for the caller.
func (h *BaseHandler) WorkflowError(c *gin.Context, we *payroll.WorkflowError) {
	h.WorkflowErrorWithData(c, we, nil)
}

// WorkflowErrorWithData sends a workflow failure together with a partial result
func (h *BaseHandler) WorkflowErrorWithData(c *gin.Context, we *payroll.WorkflowError, data any) {
	tag := requestLanguage(c)
	c.Header("Content-Language", tag.String())
	info := dto.FromWorkflowError(we, getRequestID(c), tag)
	c.JSON(dto.GetHTTPStatus(info.Code), dto.Response{Success: false, Data: data, Error: info})
}

// HandleError answers any error, unwrapping workflow errors where present
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	var we *payroll.WorkflowError
	if errors.As(err, &we) {
		h.WorkflowError(c, we)
		return
	}
	h.WorkflowError(c, payroll.NewWorkflowError(payroll.ErrCodeInternal, err.Error(),
		payroll.WithRequestID(getRequestID(c))))
}
