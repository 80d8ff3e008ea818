package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/auth"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/erp/payroll/internal/infrastructure/event"
	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/erp/payroll/internal/infrastructure/persistence"
	"github.com/erp/payroll/internal/infrastructure/rendering"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/taskqueue"
	"github.com/erp/payroll/internal/interfaces/http/handler"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/erp/payroll/internal/interfaces/http/router"
	"github.com/erp/payroll/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payrollServer struct {
	engine   *gin.Engine
	base     string
	db       *persistence.Database
	pdf      *testutil.StubPDFRenderer
	events   *testutil.MockEventHandler
	resolver *auth.JWTActorResolver
}

func newPayrollServer(t *testing.T) *payrollServer {
	t.Helper()
	log := zap.NewNop()
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	db := testutil.NewSQLiteDatabase(t)
	documents := persistence.NewGormDocumentRepository(db.DB)
	audit := persistence.NewGormAuditTrail(db.DB)
	directory := persistence.NewGormEmployeeDirectory(db.DB)

	taskStore := kvstore.NewInMemoryStore[taskqueue.Task](0)
	batchStore := kvstore.NewInMemoryStore[payroll.BatchOperation](time.Hour)
	healthCache := kvstore.NewInMemoryStore[payrollapp.SystemHealth](time.Millisecond)
	revoked := kvstore.NewInMemoryStore[auth.RevokedSession](time.Hour)
	t.Cleanup(func() {
		_ = taskStore.Close()
		_ = batchStore.Close()
		_ = healthCache.Close()
		_ = revoked.Close()
	})

	blobs, err := storage.NewFileSystemStorage(storage.FileSystemConfig{BasePath: t.TempDir(), Logger: log})
	require.NoError(t, err)

	templates, err := rendering.NewTemplateEngine()
	require.NoError(t, err)
	pdf := &testutil.StubPDFRenderer{}
	renderer := rendering.NewTemplateDocumentRenderer(templates, pdf, "Atlas Payroll", log)

	bus := event.NewInMemoryEventBus(log)
	events := testutil.NewMockEventHandler(
		payroll.EventTypeDocumentGenerated,
		payroll.EventTypeDocumentStatusChanged,
		payroll.EventTypeBatchOperationCompleted,
	)
	bus.Subscribe(events, events.EventTypes()...)
	require.NoError(t, bus.Start(ctx))
	t.Cleanup(func() { _ = bus.Stop(ctx) })

	errorHandler := payrollapp.NewErrorHandler(payrollapp.AlertConfig{}, bus, log)
	engine := payrollapp.NewTransitionEngine(documents, audit, errorHandler, payrollapp.TransitionEngineConfig{}, log,
		payrollapp.WithEnginePublisher(bus))
	pipeline := payrollapp.NewGenerationPipeline(documents, directory, engine, renderer, blobs, taskStore, errorHandler,
		payrollapp.DefaultGenerationConfig(), log, payrollapp.WithGenerationPublisher(bus))
	require.NoError(t, pipeline.Start(ctx))
	t.Cleanup(func() { _ = pipeline.Stop(ctx) })

	batches := payrollapp.NewBatchOrchestrator(documents, engine, blobs, batchStore, errorHandler,
		payrollapp.BatchConfig{}, log, payrollapp.WithBatchPublisher(bus))
	status := payrollapp.NewStatusService(documents, audit, errorHandler, 5*time.Second, log)
	health := payrollapp.NewHealthReporter(documents, audit, blobs, pipeline, engine, errorHandler,
		healthCache, payrollapp.HealthConfig{}, log)

	resolver := auth.NewJWTActorResolver(config.JWTConfig{
		Secret:                "flow-test-secret-with-enough-entropy",
		Issuer:                "payroll-flow-test",
		AccessTokenExpiration: time.Hour,
	}, auth.WithRevocations(auth.NewSessionRevocations(revoked)))

	e := gin.New()
	r := router.NewRouter(e, router.WithAPIVersion("v1"))
	e.Use(middleware.RequestID())
	e.Use(middleware.Actor(middleware.ActorConfig{
		Resolver:  resolver,
		SkipPaths: r.PublicPaths(),
		Logger:    log,
	}))
	r.Register(router.NewPayrollGroup(router.PayrollHandlers{
		Documents: handler.NewDocumentHandler(pipeline, engine, status),
		Batches:   handler.NewBatchHandler(batches),
		System:    handler.NewSystemHandler(health, "test"),
	}))
	require.NoError(t, r.Setup())

	return &payrollServer{
		engine:   e,
		base:     r.BasePath() + "/payroll",
		db:       db,
		pdf:      pdf,
		events:   events,
		resolver: resolver,
	}
}

func (s *payrollServer) token(t *testing.T, actor payroll.Actor) string {
	t.Helper()
	token, _, err := s.resolver.IssueToken(actor)
	require.NoError(t, err)
	return token
}

func (s *payrollServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Do(t, s.engine, testutil.Request{Method: method, Path: s.base + path, Token: token, Body: body})
}

func generatePayslip(employeeID string) map[string]interface{} {
	return map[string]interface{}{
		"employee_id":   employeeID,
		"document_type": "PAYSLIP",
		"period":        map[string]int{"year": 2024, "month": 3},
		"amounts": map[string]string{
			"gross_salary":           "18000",
			"net_salary":             "14230.50",
			"total_deductions":       "3769.50",
			"employee_contributions": "1214.64",
			"employer_contributions": "3850.20",
			"income_tax":             "2554.86",
		},
		"options": map[string]string{"mode": "FINAL"},
	}
}

func TestPayrollFlow_GenerateApproveSendArchive(t *testing.T) {
	s := newPayrollServer(t)
	emp := testutil.SeedEmployee(t, s.db.DB, testutil.NewEmployee("flow-1"))
	manager := s.token(t, testutil.ManagerActor())

	w := s.do(t, http.MethodPost, "/documents/generate", manager, generatePayslip(emp.ID.String()))
	testutil.AssertSuccess(t, w, http.StatusCreated)
	generated := testutil.Data[payrollapp.GenerationResult](t, w)
	require.NotEmpty(t, generated.DocumentID)
	assert.Equal(t, payroll.StatusGenerated, generated.Status)
	require.NotNil(t, generated.File)
	assert.Equal(t, int64(8*1024), generated.File.Size)
	assert.Len(t, s.pdf.Calls(), 1)

	docPath := "/documents/" + generated.DocumentID

	w = s.do(t, http.MethodPost, docPath+"/transitions", manager, map[string]interface{}{
		"target_status": "APPROVED",
		"comments":      "Checked against the March payroll ledger",
	})
	testutil.AssertSuccess(t, w, http.StatusOK)
	approved := testutil.Data[payrollapp.TransitionResult](t, w)
	assert.Equal(t, payroll.StatusGenerated, approved.PreviousStatus)
	assert.Equal(t, payroll.StatusApproved, approved.NewStatus)

	w = s.do(t, http.MethodPost, docPath+"/transitions", manager, map[string]interface{}{
		"target_status": "SENT",
		"recipients":    []string{emp.Email},
	})
	testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, payroll.StatusSent, testutil.Data[payrollapp.TransitionResult](t, w).NewStatus)

	w = s.do(t, http.MethodGet, docPath+"/status?include_history=true", manager, nil)
	testutil.AssertSuccess(t, w, http.StatusOK)
	info := testutil.Data[payrollapp.DocumentStatusInfo](t, w)
	assert.Equal(t, payroll.StatusSent, info.Status)
	assert.Contains(t, info.AllowedTransitions, payroll.StatusArchived)
	require.NotNil(t, info.Distribution)
	assert.GreaterOrEqual(t, info.HistoryCount, int64(3))
	var reached []payroll.DocumentStatus
	for _, rec := range info.History {
		reached = append(reached, rec.ToStatus)
	}
	assert.Contains(t, reached, payroll.StatusApproved)
	assert.Contains(t, reached, payroll.StatusSent)

	w = s.do(t, http.MethodPost, docPath+"/transitions", manager, map[string]interface{}{
		"target_status": "APPROVED",
	})
	testutil.AssertError(t, w, http.StatusConflict, string(payroll.ErrCodeInvalidStatusTransition))

	w = s.do(t, http.MethodPost, "/batch-operations", manager, map[string]interface{}{
		"operation_type": "ARCHIVE",
		"criteria": map[string]interface{}{
			"employee_ids": []string{emp.ID.String()},
			"statuses":     []string{"SENT"},
		},
		"parameters": map[string]string{"reason": "Closing fiscal year 2024"},
	})
	testutil.AssertSuccess(t, w, http.StatusOK)
	op := testutil.Data[payroll.BatchOperation](t, w)
	assert.Equal(t, payroll.BatchStatusCompleted, op.Status)
	assert.Equal(t, 1, op.TotalDocuments)
	assert.Equal(t, 1, op.Successful)

	w = s.do(t, http.MethodGet, docPath+"/status", manager, nil)
	testutil.AssertSuccess(t, w, http.StatusOK)
	assert.Equal(t, payroll.StatusArchived, testutil.Data[payrollapp.DocumentStatusInfo](t, w).Status)

	types := s.events.HandledTypes()
	assert.Contains(t, types, payroll.EventTypeDocumentGenerated)
	assert.Contains(t, types, payroll.EventTypeDocumentStatusChanged)
	assert.Contains(t, types, payroll.EventTypeBatchOperationCompleted)
}

func TestPayrollFlow_RequiresActor(t *testing.T) {
	s := newPayrollServer(t)

	w := s.do(t, http.MethodPost, "/documents/generate", "", generatePayslip(testutil.NewTestUUID("nobody").String()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/documents/generate", "not-a-jwt", generatePayslip(testutil.NewTestUUID("nobody").String()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPayrollFlow_PublicRoutes(t *testing.T) {
	s := newPayrollServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
	report := testutil.Data[payrollapp.SystemHealth](t, w)
	assert.NotEmpty(t, report.Status)

	w = s.do(t, http.MethodGet, "/system/info", "", nil)
	testutil.AssertSuccess(t, w, http.StatusOK)
}

func TestPayrollFlow_UnknownEmployee(t *testing.T) {
	s := newPayrollServer(t)
	manager := s.token(t, testutil.ManagerActor())

	w := s.do(t, http.MethodPost, "/documents/generate", manager, generatePayslip(testutil.NewTestUUID("ghost").String()))
	assert.GreaterOrEqual(t, w.Code, http.StatusBadRequest)
	resp := testutil.Envelope(t, w)
	assert.False(t, resp.Success)
	assert.Empty(t, s.pdf.Calls())
}

func TestPayrollFlow_MaintenanceRequiresAdmin(t *testing.T) {
	s := newPayrollServer(t)

	w := s.do(t, http.MethodPost, "/health/maintenance", s.token(t, testutil.ManagerActor()),
		map[string]string{"action": "REVALIDATE_INTEGRITY"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
