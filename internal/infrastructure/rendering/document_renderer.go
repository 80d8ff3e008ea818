package rendering

import (
	"context"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DocumentRenderRequest asks for the PDF of one payroll document
type DocumentRenderRequest struct {
	Document  *payroll.PayrollDocument
	Employee  *payroll.Employee
	Watermark *payroll.WatermarkConfig
	Quality   payroll.Quality
	Timeout   time.Duration
}

// DocumentRenderer produces the PDF bytes of a payroll document
type DocumentRenderer interface {
	RenderDocument(ctx context.Context, req *DocumentRenderRequest) (*RenderResult, error)
}

// EmployeeView is the employee block shown on documents
type EmployeeView struct {
	FullName    string
	Code        string
	Position    string
	Department  string
	CNSSNumber  string
	BankName    string
	BankAccount string
	HireDate    *time.Time
}

// DocumentView is the data every document template receives
type DocumentView struct {
	DocumentID         string
	Title              string
	Company            string
	PeriodLabel        string
	Version            int
	GeneratedAt        time.Time
	Employee           EmployeeView
	Amounts            payroll.PayrollAmounts
	TotalContributions decimal.Decimal
	EmployerCost       decimal.Decimal
	Watermark          *payroll.WatermarkConfig
}

// TemplateDocumentRenderer renders the type's template then prints it to PDF.
type TemplateDocumentRenderer struct {
	engine  *TemplateEngine
	pdf     PDFRenderer
	company string
	logger  *zap.Logger
	now     func() time.Time
}

var _ DocumentRenderer = (*TemplateDocumentRenderer)(nil)

// NewTemplateDocumentRenderer wires a template engine to a PDF renderer
func NewTemplateDocumentRenderer(engine *TemplateEngine, pdf PDFRenderer, company string, logger *zap.Logger) *TemplateDocumentRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateDocumentRenderer{engine: engine, pdf: pdf, company: company, logger: logger, now: time.Now}
}

// TemplateName maps a document type to its embedded template
func TemplateName(t payroll.DocumentType) string {
	return strings.ToLower(string(t)) + ".html"
}

// BuildView assembles the template data for a document
func (r *TemplateDocumentRenderer) BuildView(req *DocumentRenderRequest) *DocumentView {
	doc := req.Document
	view := &DocumentView{
		DocumentID:  doc.DocumentID,
		Title:       doc.Type.DisplayName(),
		Company:     r.company,
		PeriodLabel: doc.Period.Label(),
		Version:     doc.Version,
		GeneratedAt: r.now(),
		Amounts:     doc.Amounts,
		Employee: EmployeeView{
			FullName: doc.EmployeeName,
			Code:     doc.EmployeeCode,
		},
		TotalContributions: doc.Amounts.EmployeeContributions.Add(doc.Amounts.EmployerContributions),
		EmployerCost:       doc.Amounts.GrossSalary.Add(doc.Amounts.EmployerContributions),
		Watermark:          req.Watermark,
	}
	if e := req.Employee; e != nil {
		view.Employee = EmployeeView{
			FullName:    e.FullName(),
			Code:        e.Code,
			Position:    e.Position,
			Department:  e.Department,
			CNSSNumber:  e.CNSSNumber,
			BankName:    e.BankName,
			BankAccount: e.BankAccount,
			HireDate:    e.HireDate,
		}
	}
	return view
}

// RenderDocument renders HTML for the document type and prints it
func (r *TemplateDocumentRenderer) RenderDocument(ctx context.Context, req *DocumentRenderRequest) (*RenderResult, error) {
	if req == nil || req.Document == nil {
		return nil, NewRenderError(ErrCodeInvalidHTML, "document is required", nil)
	}

	html, err := r.engine.Execute(TemplateName(req.Document.Type), r.BuildView(req))
	if err != nil {
		return nil, err
	}

	result, err := r.pdf.Render(ctx, &RenderRequest{
		HTML:            html,
		Title:           req.Document.DocumentID,
		PrintBackground: req.Quality != payroll.QualityDraft,
		FooterHTML:      `<div style="font-size:8px;width:100%;text-align:center"><span class="pageNumber"></span>/<span class="totalPages"></span></div>`,
		Timeout:         req.Timeout,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("document rendered",
		zap.String("document_id", req.Document.DocumentID),
		zap.String("type", string(req.Document.Type)),
		zap.Int("bytes", len(result.PDFData)))
	return result, nil
}
