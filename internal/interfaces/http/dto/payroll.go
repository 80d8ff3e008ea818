package dto

import (
	"github.com/erp/payroll/internal/domain/payroll"
)

// TransitionBody is the body of a status transition request
type TransitionBody struct {
	TargetStatus payroll.DocumentStatus `json:"target_status" binding:"required"`
	Reason       string                 `json:"reason" binding:"max=500"`
	Comments     string                 `json:"comments" binding:"max=2000"`
	Force        bool                   `json:"force"`
	Recipients   []string               `json:"recipients" binding:"max=50"`
	TrackingID   string                 `json:"tracking_id" binding:"max=100"`
}

// StatusQueryParams are the query parameters of a document status request
type StatusQueryParams struct {
	IncludeHistory bool `form:"include_history"`
	HistoryLimit   int  `form:"history_limit" binding:"min=0"`
}

// HealthQueryParams are the query parameters of a health request
type HealthQueryParams struct {
	Detailed       bool   `form:"detailed"`
	Component      string `form:"component"`
	IncludeMetrics bool   `form:"include_metrics"`
}
