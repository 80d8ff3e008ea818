package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

var (
	managerActor = payroll.Actor{
		ID:    uuid.MustParse("6f1c1f52-8d0a-4d43-9a53-1f3f0d2c7a11"),
		Email: "rh@example.ma",
		Roles: []payroll.Role{payroll.RolePayrollManager},
	}
	adminActor = payroll.Actor{
		ID:    uuid.MustParse("0b8f3a5e-2c51-4c1e-8c59-9a1d4a1f2b22"),
		Email: "admin@example.ma",
		Roles: []payroll.Role{payroll.RolePayrollAdmin},
	}
)

// ==================== Mocks ====================

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req payrollapp.GenerationRequest) *payrollapp.GenerationResult {
	args := m.Called(ctx, req)
	return args.Get(0).(*payrollapp.GenerationResult)
}

func (m *MockGenerator) CancelQueuedGeneration(ctx context.Context, documentID string, actor payroll.Actor, requestID string) (*payrollapp.TransitionResult, error) {
	args := m.Called(ctx, documentID, actor, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payrollapp.TransitionResult), args.Error(1)
}

type MockTransitioner struct {
	mock.Mock
}

func (m *MockTransitioner) Transition(ctx context.Context, req payrollapp.TransitionRequest) *payrollapp.TransitionResult {
	args := m.Called(ctx, req)
	return args.Get(0).(*payrollapp.TransitionResult)
}

type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) QueryDocumentStatus(ctx context.Context, q payrollapp.StatusQuery) (*payrollapp.DocumentStatusInfo, *payroll.WorkflowError) {
	args := m.Called(ctx, q)
	info, _ := args.Get(0).(*payrollapp.DocumentStatusInfo)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return info, we
}

type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) Run(ctx context.Context, req payrollapp.BatchRequest) (*payroll.BatchOperation, *payroll.WorkflowError) {
	args := m.Called(ctx, req)
	op, _ := args.Get(0).(*payroll.BatchOperation)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return op, we
}

func (m *MockBatchRunner) Get(ctx context.Context, operationID string) (*payroll.BatchOperation, *payroll.WorkflowError) {
	args := m.Called(ctx, operationID)
	op, _ := args.Get(0).(*payroll.BatchOperation)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return op, we
}

func (m *MockBatchRunner) Cancel(ctx context.Context, operationID string, actor payroll.Actor) (*payroll.BatchOperation, *payroll.WorkflowError) {
	args := m.Called(ctx, operationID, actor)
	op, _ := args.Get(0).(*payroll.BatchOperation)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return op, we
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Check(ctx context.Context, opts payrollapp.HealthOptions) (*payrollapp.SystemHealth, *payroll.WorkflowError) {
	args := m.Called(ctx, opts)
	report, _ := args.Get(0).(*payrollapp.SystemHealth)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return report, we
}

func (m *MockHealthChecker) Maintain(ctx context.Context, req payrollapp.MaintenanceRequest) (*payrollapp.MaintenanceResult, *payroll.WorkflowError) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*payrollapp.MaintenanceResult)
	we, _ := args.Get(1).(*payroll.WorkflowError)
	return result, we
}

// ==================== Helpers ====================

type fixedResolver struct {
	actor payroll.Actor
}

func (r fixedResolver) Resolve(context.Context, string) (payroll.Actor, error) {
	return r.actor, nil
}

// testRouter mounts the request id and actor middleware the way the server does
func testRouter(actor *payroll.Actor) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	if actor != nil {
		router.Use(middleware.Actor(middleware.ActorConfig{Resolver: fixedResolver{actor: *actor}}))
	}
	return router
}

func doRequest(router *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.RequestIDHeader, "req-test-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// assertNoCall checks that a two-argument method was never reached
func assertNoCall(t *testing.T, m *mock.Mock, method string) {
	t.Helper()
	m.AssertNotCalled(t, method, mock.Anything, mock.Anything)
}
