package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindRouter(maxBody int64) *gin.Engine {
	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	if maxBody > 0 {
		router.Use(BodyLimit(maxBody))
	}
	router.POST("/transitions", func(c *gin.Context) {
		var body dto.TransitionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleBindError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(body))
	})
	return router
}

func postJSON(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/transitions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestHandleBindError(t *testing.T) {
	t.Run("missing required field names the json field", func(t *testing.T) {
		w := postJSON(bindRouter(0), `{"reason": "ok"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeValidation, info.Code)
		require.Len(t, info.Violations, 1)
		assert.Equal(t, "target_status", info.Violations[0].Field)
		assert.Equal(t, "This field is required", info.Violations[0].Message)
		assert.NotEmpty(t, info.RequestID)
	})

	t.Run("too many recipients", func(t *testing.T) {
		recipients := make([]string, 51)
		for i := range recipients {
			recipients[i] = `"a@b.ma"`
		}
		w := postJSON(bindRouter(0), `{"target_status":"SENT","recipients":[`+strings.Join(recipients, ",")+`]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		info := decodeError(t, w)
		require.Len(t, info.Violations, 1)
		assert.Equal(t, "recipients", info.Violations[0].Field)
		assert.Equal(t, "Must contain at most 50 items", info.Violations[0].Message)
		assert.Equal(t, "50", info.Violations[0].Expected)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := postJSON(bindRouter(0), `{"target_status": `)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, decodeError(t, w).Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := postJSON(bindRouter(0), ``)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, decodeError(t, w).Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		w := postJSON(bindRouter(0), `{"target_status":"SENT","force":"yes"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeValidation, info.Code)
		require.Len(t, info.Violations, 1)
		assert.Equal(t, "force", info.Violations[0].Field)
		assert.Equal(t, "bool", info.Violations[0].Expected)
	})

	t.Run("streamed body over the limit", func(t *testing.T) {
		router := bindRouter(64)
		req := httptest.NewRequest(http.MethodPost, "/transitions",
			strings.NewReader(`{"target_status":"SENT","comments":"`+strings.Repeat("x", 200)+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = -1
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodeTooLarge, decodeError(t, w).Code)
	})

	t.Run("valid body", func(t *testing.T) {
		w := postJSON(bindRouter(0), `{"target_status":"APPROVED","reason":"checked"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestFormatValidationErrors_NonValidatorError(t *testing.T) {
	resp := FormatValidationErrors(assert.AnError, "req-1")
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	assert.Empty(t, resp.Error.Violations)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}
