package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(acceptLanguage string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	if acceptLanguage != "" {
		c.Request.Header.Set("Accept-Language", acceptLanguage)
	}
	c.Set(middleware.RequestIDKey, "req-base-1")
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	c, _ := newTestContext("")
	assert.Equal(t, "req-base-1", getRequestID(c))

	w := httptest.NewRecorder()
	empty, _ := gin.CreateTestContext(w)
	assert.Equal(t, "", getRequestID(empty))
}

func TestBaseHandlerSuccessResponses(t *testing.T) {
	tests := []struct {
		name         string
		method       func(*BaseHandler, *gin.Context)
		expectedCode int
	}{
		{"Success", func(h *BaseHandler, c *gin.Context) { h.Success(c, gin.H{"k": "v"}) }, http.StatusOK},
		{"Created", func(h *BaseHandler, c *gin.Context) { h.Created(c, gin.H{"k": "v"}) }, http.StatusCreated},
		{"Accepted", func(h *BaseHandler, c *gin.Context) { h.Accepted(c, gin.H{"k": "v"}) }, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			c, w := newTestContext("")

			tt.method(h, c)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			assert.True(t, resp.Success)
			assert.Nil(t, resp.Error)
		})
	}
}

func TestBaseHandlerBadRequest(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext("")

	h.BadRequest(c, "Invalid request")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Equal(t, "req-base-1", resp.Error.RequestID)
}

func TestBaseHandlerWorkflowError(t *testing.T) {
	tests := []struct {
		name           string
		code           payroll.ErrorCode
		message        string
		acceptLanguage string
		expectedCode   int
		expectedLang   string
		exposesMessage bool
	}{
		{"validation keeps detail", payroll.ErrCodeInvalidPeriod, "month 13 is out of range", "", http.StatusBadRequest, "en", true},
		{"business keeps detail", payroll.ErrCodeDocumentDeleted, "document was deleted", "", http.StatusGone, "en", true},
		{"system is sanitized", payroll.ErrCodeStorageWriteFailed, "s3: AccessDenied on bucket payroll", "", http.StatusInternalServerError, "en", false},
		{"external is sanitized", payroll.ErrCodeRendererUnavailable, "chrome exited with status 1", "fr", http.StatusServiceUnavailable, "fr", false},
		{"performance maps to 503", payroll.ErrCodeQueueCapacityExceeded, "queue full (500)", "de", http.StatusServiceUnavailable, "en", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			c, w := newTestContext(tt.acceptLanguage)

			h.WorkflowError(c, payroll.NewWorkflowError(tt.code, tt.message))

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.expectedLang, w.Header().Get("Content-Language"))
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, string(tt.code.Category()), resp.Error.Category)
			if tt.exposesMessage {
				assert.Equal(t, tt.message, resp.Error.Message)
			} else {
				assert.NotEqual(t, tt.message, resp.Error.Message)
				assert.Contains(t, resp.Error.Message, "req-base-1")
			}
		})
	}
}

func TestBaseHandlerWorkflowErrorKeepsOwnRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext("")

	h.WorkflowError(c, payroll.NewWorkflowError(payroll.ErrCodeAuditWriteFailed, "insert failed",
		payroll.WithRequestID("req-origin-9")))

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-base-1", resp.Error.RequestID)
	assert.Contains(t, resp.Error.Message, "req-origin-9")
}

func TestBaseHandlerHandleError(t *testing.T) {
	h := &BaseHandler{}

	t.Run("handles nil error", func(t *testing.T) {
		c, w := newTestContext("")

		h.HandleError(c, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.Bytes())
	})

	t.Run("handles workflow error", func(t *testing.T) {
		c, w := newTestContext("")

		h.HandleError(c, payroll.NewWorkflowError(payroll.ErrCodeDocumentNotFound, "no such document"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("handles wrapped workflow error", func(t *testing.T) {
		c, w := newTestContext("")

		wrapped := fmt.Errorf("cancel generation: %w",
			payroll.NewWorkflowError(payroll.ErrCodeOperationNotCancellable, "already rendering"))
		h.HandleError(c, wrapped)

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, string(payroll.ErrCodeOperationNotCancellable), resp.Error.Code)
	})

	t.Run("handles standard error", func(t *testing.T) {
		c, w := newTestContext("")

		h.HandleError(c, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, string(payroll.ErrCodeInternal), resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, assert.AnError.Error())
	})
}
