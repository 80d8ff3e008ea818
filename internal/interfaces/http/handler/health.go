package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports system health and runs maintenance
type HealthChecker interface {
	Check(ctx context.Context, opts payrollapp.HealthOptions) (*payrollapp.SystemHealth, *payroll.WorkflowError)
	Maintain(ctx context.Context, req payrollapp.MaintenanceRequest) (*payrollapp.MaintenanceResult, *payroll.WorkflowError)
}

// SystemHandler serves health, maintenance and reference data
type SystemHandler struct {
	BaseHandler
	health    HealthChecker
	version   string
	startTime time.Time
}

// NewSystemHandler creates a SystemHandler
func NewSystemHandler(health HealthChecker, version string) *SystemHandler {
	return &SystemHandler{
		health:    health,
		version:   version,
		startTime: time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// Health handles GET /health. A critical report answers 503 so load balancers
// take the instance out of rotation.
func (h *SystemHandler) Health(c *gin.Context) {
	var params dto.HealthQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	report, we := h.health.Check(c.Request.Context(), payrollapp.HealthOptions{
		Detailed:       params.Detailed,
		Component:      params.Component,
		IncludeMetrics: params.IncludeMetrics,
	})
	if we != nil {
		h.WorkflowError(c, we)
		return
	}

	status := http.StatusOK
	if report.Status == payrollapp.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: report})
}

// Maintenance handles POST /health/maintenance
func (h *SystemHandler) Maintenance(c *gin.Context) {
	actor, ok := h.getActor(c)
	if !ok {
		return
	}

	var req payrollapp.MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	req.Actor = actor
	req.RequestID = getRequestID(c)

	result, we := h.health.Maintain(c.Request.Context(), req)
	if we != nil {
		h.WorkflowError(c, we)
		return
	}
	h.Success(c, result)
}

// Statuses handles GET /statuses: every status with its label, color and
// legal targets
func (h *SystemHandler) Statuses(c *gin.Context) {
	h.Success(c, payrollapp.Catalogue())
}

// Info handles GET /system/info
func (h *SystemHandler) Info(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      "Payroll Document Workflow",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}
