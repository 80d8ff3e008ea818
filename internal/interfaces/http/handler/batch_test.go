package handler

import (
	"net/http"
	"testing"
	"time"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupBatchRouter(actor *payroll.Actor) (*gin.Engine, *MockBatchRunner) {
	runner := new(MockBatchRunner)
	h := NewBatchHandler(runner)

	router := testRouter(actor)
	router.POST("/batch-operations", h.Create)
	router.GET("/batch-operations/:operation_id", h.Get)
	router.POST("/batch-operations/:operation_id/cancel", h.Cancel)
	return router, runner
}

func newTestOperation(status payroll.BatchStatus, async bool) *payroll.BatchOperation {
	op := payroll.NewBatchOperation(payroll.BatchOperationApprove,
		payroll.SelectionCriteria{Statuses: []payroll.DocumentStatus{payroll.StatusGenerated}},
		payroll.BatchParameters{},
		[]string{testDocumentID},
		managerActor.ID, async, time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC))
	op.Status = status
	return op
}

const approveBatchBody = `{
	"operation_type": "APPROVE",
	"criteria": {"statuses": ["GENERATED"], "period_ids": ["2024-03"]},
	"async": true
}`

func TestBatchHandler_Create_Async(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	op := newTestOperation(payroll.BatchStatusQueued, true)

	runner.On("Run", mock.Anything, mock.MatchedBy(func(req payrollapp.BatchRequest) bool {
		return req.Type == payroll.BatchOperationApprove &&
			req.Async &&
			len(req.Criteria.PeriodIDs) == 1 &&
			req.Actor.ID == managerActor.ID &&
			req.RequestID == "req-test-1"
	})).Return(op, nil)

	w := doRequest(router, http.MethodPost, "/batch-operations", approveBatchBody)

	assert.Equal(t, http.StatusAccepted, w.Code)
	got := decodeData[payroll.BatchOperation](t, decode(t, w))
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, payroll.BatchStatusQueued, got.Status)
	runner.AssertExpectations(t)
}

func TestBatchHandler_Create_Sync(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	op := newTestOperation(payroll.BatchStatusCompleted, false)
	op.Processed, op.Successful = 1, 1

	runner.On("Run", mock.Anything, mock.Anything).Return(op, nil)

	w := doRequest(router, http.MethodPost, "/batch-operations",
		`{"operation_type":"APPROVE","criteria":{"statuses":["GENERATED"]}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	got := decodeData[payroll.BatchOperation](t, decode(t, w))
	assert.Equal(t, payroll.BatchStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Successful)
}

func TestBatchHandler_Create_AsyncAlreadyFinished(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(newTestOperation(payroll.BatchStatusFailed, true), nil)

	w := doRequest(router, http.MethodPost, "/batch-operations", approveBatchBody)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBatchHandler_Create_LimitExceeded(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(nil, payroll.NewWorkflowError(payroll.ErrCodeBatchLimitExceeded,
			"selection matches 1200 documents, limit is 1000"))

	w := doRequest(router, http.MethodPost, "/batch-operations", approveBatchBody)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(payroll.ErrCodeBatchLimitExceeded), env.Error.Code)
	assert.Contains(t, env.Error.Message, "limit is 1000")
}

func TestBatchHandler_Create_InvalidJSON(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)

	w := doRequest(router, http.MethodPost, "/batch-operations", `{"operation_type":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertNoCall(t, &runner.Mock, "Run")
}

func TestBatchHandler_Get(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	op := newTestOperation(payroll.BatchStatusRunning, true)
	runner.On("Get", mock.Anything, op.ID.String()).Return(op, nil)

	w := doRequest(router, http.MethodGet, "/batch-operations/"+op.ID.String(), "")

	assert.Equal(t, http.StatusOK, w.Code)
	got := decodeData[payroll.BatchOperation](t, decode(t, w))
	assert.Equal(t, payroll.BatchStatusRunning, got.Status)
	assert.Equal(t, []string{testDocumentID}, got.DocumentIDs)
}

func TestBatchHandler_Get_NotFound(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	id := uuid.NewString()
	runner.On("Get", mock.Anything, id).
		Return(nil, payroll.NewWorkflowError(payroll.ErrCodeOperationNotFound, "batch operation not found"))

	w := doRequest(router, http.MethodGet, "/batch-operations/"+id, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(payroll.ErrCodeOperationNotFound), env.Error.Code)
}

func TestBatchHandler_Cancel(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	op := newTestOperation(payroll.BatchStatusRunning, true)
	op.CancelRequested = true
	runner.On("Cancel", mock.Anything, op.ID.String(), managerActor).Return(op, nil)

	w := doRequest(router, http.MethodPost, "/batch-operations/"+op.ID.String()+"/cancel", "")

	assert.Equal(t, http.StatusOK, w.Code)
	got := decodeData[payroll.BatchOperation](t, decode(t, w))
	assert.True(t, got.CancelRequested)
	runner.AssertExpectations(t)
}

func TestBatchHandler_Cancel_Finished(t *testing.T) {
	router, runner := setupBatchRouter(&managerActor)
	id := uuid.NewString()
	runner.On("Cancel", mock.Anything, id, mock.Anything).
		Return(nil, payroll.NewWorkflowError(payroll.ErrCodeOperationNotCancellable, "operation already COMPLETED"))

	w := doRequest(router, http.MethodPost, "/batch-operations/"+id+"/cancel", "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBatchHandler_NoActor(t *testing.T) {
	router, runner := setupBatchRouter(nil)

	w := doRequest(router, http.MethodGet, "/batch-operations/"+uuid.NewString(), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assertNoCall(t, &runner.Mock, "Get")
}
