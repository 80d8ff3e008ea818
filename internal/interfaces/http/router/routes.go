package router

import (
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/interfaces/http/handler"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
)

const payrollPrefix = "/payroll"

// PayrollHandlers bundles the handlers mounted under /payroll
type PayrollHandlers struct {
	Documents *handler.DocumentHandler
	Batches   *handler.BatchHandler
	System    *handler.SystemHandler
}

// NewPayrollGroup builds the payroll route tree
func NewPayrollGroup(h PayrollHandlers) *DomainGroup {
	g := NewDomainGroup("payroll", payrollPrefix)

	g.Group("documents", "/documents").
		POST("/generate", h.Documents.Generate).
		POST("/:document_id/transitions", h.Documents.Transition).
		GET("/:document_id/status", h.Documents.Status).
		DELETE("/:document_id/generation", h.Documents.CancelGeneration)

	g.Group("batch-operations", "/batch-operations").
		POST("", h.Batches.Create).
		GET("/:operation_id", h.Batches.Get).
		POST("/:operation_id/cancel", h.Batches.Cancel)

	g.Group("health", "/health").
		GET("", h.System.Health).
		POST("/maintenance", middleware.RequireRole(payroll.RolePayrollAdmin), h.System.Maintenance)

	g.GET("/statuses", h.System.Statuses)
	g.GET("/system/info", h.System.Info)

	return g
}

// PublicPaths lists the payroll routes served without an actor. Load balancers
// probe the health route unauthenticated.
func (r *Router) PublicPaths() []string {
	return []string{
		r.BasePath() + payrollPrefix + "/health",
		r.BasePath() + payrollPrefix + "/system/info",
	}
}
