package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/rendering"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/taskqueue"
	"github.com/erp/payroll/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	pipelineComponent  = "generation_pipeline"
	generationTaskKind = "generate_document"
	pdfContentType     = "application/pdf"
)

// GenerationOptions tune one generation request
type GenerationOptions struct {
	Mode            payroll.GenerationMode   `json:"mode,omitempty" validate:"omitempty,oneof=PREVIEW FINAL"`
	Quality         payroll.Quality          `json:"quality,omitempty" validate:"omitempty,oneof=DRAFT STANDARD HIGH"`
	ForceRegenerate bool                     `json:"force_regenerate,omitempty"`
	Approval        *InlineApproval          `json:"approval,omitempty"`
	Watermark       *payroll.WatermarkConfig `json:"watermark,omitempty"`
	Tags            []string                 `json:"tags,omitempty" validate:"max=20,dive,max=50"`
	Category        string                   `json:"category,omitempty" validate:"max=100"`
	Priority        payroll.Priority         `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
}

// InlineApproval approves the document as part of generation
type InlineApproval struct {
	Comments string `json:"comments,omitempty" validate:"max=2000"`
}

// GenerationRequest asks for one payroll document
type GenerationRequest struct {
	EmployeeID   uuid.UUID              `json:"employee_id" validate:"required"`
	DocumentType payroll.DocumentType   `json:"document_type" validate:"required,oneof=PAYSLIP TRANSFER_ORDER CNSS_DECLARATION SALARY_CERTIFICATE PAYROLL_SUMMARY"`
	Period       payroll.Period         `json:"period"`
	Amounts      payroll.PayrollAmounts `json:"amounts"`
	Options      GenerationOptions      `json:"options"`
	Actor        payroll.Actor          `json:"-"`
	RequestID    string                 `json:"-"`
}

// GenerationResult is the outcome of RequestGeneration
type GenerationResult struct {
	Success        bool                   `json:"success"`
	DocumentID     string                 `json:"document_id,omitempty"`
	Status         payroll.DocumentStatus `json:"status,omitempty"`
	Version        int                    `json:"version,omitempty"`
	Queued         bool                   `json:"queued"`
	ProcessingTime time.Duration          `json:"processing_time"`
	File           *payroll.FileMetadata  `json:"file,omitempty"`
	Error          *payroll.WorkflowError `json:"error,omitempty"`
}

// GenerationConfig holds pipeline limits
type GenerationConfig struct {
	MaxConcurrent   int
	QueueCapacity   int
	QueueWorkers    int
	MaxAttempts     int
	RetryDelay      time.Duration
	PDFMinBytes     int
	PDFMaxBytes     int
	PreviewTTL      time.Duration
	StorageTimeout  time.Duration
	RenderTimeout   time.Duration
	StoreTimeout    time.Duration
	ResumeOnStartup bool
}

// DefaultGenerationConfig returns the default limits
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxConcurrent:   5,
		QueueCapacity:   100,
		QueueWorkers:    5,
		MaxAttempts:     3,
		RetryDelay:      5 * time.Second,
		PDFMinBytes:     1024,
		PDFMaxBytes:     10 << 20,
		PreviewTTL:      24 * time.Hour,
		StorageTimeout:  10 * time.Second,
		RenderTimeout:   60 * time.Second,
		StoreTimeout:    10 * time.Second,
		ResumeOnStartup: true,
	}
}

// generationTask is the queued payload of a placeholder document
type generationTask struct {
	DocumentID string          `json:"document_id"`
	ActorID    uuid.UUID       `json:"actor_id"`
	ActorEmail string          `json:"actor_email,omitempty"`
	Roles      []payroll.Role  `json:"roles,omitempty"`
	Quality    payroll.Quality `json:"quality"`
	Approval   *InlineApproval `json:"approval,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

func (t generationTask) actor() payroll.Actor {
	return payroll.Actor{ID: t.ActorID, Email: t.ActorEmail, Roles: t.Roles}
}

// GenerationPipeline validates generation requests, produces PDFs under a
// concurrency cap and hands the result to the transition engine.
type GenerationPipeline struct {
	repo      payroll.DocumentRepository
	directory payroll.EmployeeDirectory
	engine    *TransitionEngine
	renderer  rendering.DocumentRenderer
	storage   storage.BlobStorage
	fallback  storage.BlobStorage
	errors    *ErrorHandler
	publisher shared.EventPublisher
	recorder  MetricsRecorder
	cfg       GenerationConfig
	logger    *zap.Logger
	now       func() time.Time
	sleep     taskqueue.Sleeper

	sem   *semaphore.Weighted
	queue *taskqueue.Queue
	// duplicate check and insert of a final document run under its lineage
	lineages keyedLocks[payroll.LineageKey]
}

// GenerationOption configures a GenerationPipeline
type GenerationOption func(*GenerationPipeline)

// WithGenerationClock replaces the time source
func WithGenerationClock(now func() time.Time) GenerationOption {
	return func(p *GenerationPipeline) { p.now = now }
}

// WithGenerationSleeper replaces the wait used between retries
func WithGenerationSleeper(s taskqueue.Sleeper) GenerationOption {
	return func(p *GenerationPipeline) { p.sleep = s }
}

// WithGenerationRecorder sets the metrics recorder
func WithGenerationRecorder(r MetricsRecorder) GenerationOption {
	return func(p *GenerationPipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithGenerationPublisher sets the domain event publisher
func WithGenerationPublisher(pub shared.EventPublisher) GenerationOption {
	return func(p *GenerationPipeline) { p.publisher = pub }
}

// WithFallbackStorage sets the backend used when the primary write cannot be recovered by retrying
func WithFallbackStorage(s storage.BlobStorage) GenerationOption {
	return func(p *GenerationPipeline) { p.fallback = s }
}

// NewGenerationPipeline creates the pipeline and its placeholder queue.
// taskStore holds queued generation tasks.
func NewGenerationPipeline(
	repo payroll.DocumentRepository,
	directory payroll.EmployeeDirectory,
	engine *TransitionEngine,
	renderer rendering.DocumentRenderer,
	blobs storage.BlobStorage,
	taskStore shared.KeyedStore[taskqueue.Task],
	errorHandler *ErrorHandler,
	cfg GenerationConfig,
	logger *zap.Logger,
	opts ...GenerationOption,
) *GenerationPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGenerationConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.QueueWorkers <= 0 {
		cfg.QueueWorkers = cfg.MaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = def.PreviewTTL
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = def.RenderTimeout
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = def.StorageTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if errorHandler == nil {
		errorHandler = NewErrorHandler(AlertConfig{}, nil, logger)
	}

	p := &GenerationPipeline{
		repo:      repo,
		directory: directory,
		engine:    engine,
		renderer:  renderer,
		storage:   blobs,
		errors:    errorHandler,
		recorder:  noopRecorder{},
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     taskqueue.ContextSleeper,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.queue = taskqueue.New(taskqueue.Config{
		Workers:     cfg.QueueWorkers,
		Capacity:    cfg.QueueCapacity,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		TaskTimeout: cfg.RenderTimeout + cfg.StorageTimeout + 2*cfg.StoreTimeout,
	}, taskqueue.HandlerFunc(p.handleTask), taskStore, logger.Named("generation_queue"),
		taskqueue.WithSleeper(p.sleep),
		taskqueue.WithClock(p.now),
		taskqueue.WithDeadLetter(p.onDeadLetter),
	)
	return p
}

// Start launches the queue workers and, when configured, re-enqueues placeholders
// left by a previous process
func (p *GenerationPipeline) Start(ctx context.Context) error {
	if err := p.queue.Start(ctx); err != nil {
		return err
	}
	if !p.cfg.ResumeOnStartup {
		return nil
	}
	n, err := p.ResumePending(ctx)
	if err != nil {
		p.logger.Error("Failed to resume queued generations", zap.Error(err))
		return nil
	}
	if n > 0 {
		p.logger.Info("Resumed queued generations", zap.Int("count", n))
	}
	return nil
}

// Stop drains the queue workers
func (p *GenerationPipeline) Stop(ctx context.Context) error {
	return p.queue.Stop(ctx)
}

// QueueStats returns the placeholder queue counters
func (p *GenerationPipeline) QueueStats() taskqueue.Stats {
	return p.queue.Stats()
}

// QueueCapacity returns the configured queue capacity
func (p *GenerationPipeline) QueueCapacity() int {
	return p.cfg.QueueCapacity
}

// DeadLetters returns generation tasks that exhausted their attempts
func (p *GenerationPipeline) DeadLetters(ctx context.Context) ([]*taskqueue.Task, error) {
	return p.queue.DeadLetters(ctx)
}

// Generate runs the validation gate, the duplicate policy and admission control,
// then produces the document synchronously or queues it as a placeholder
func (p *GenerationPipeline) Generate(ctx context.Context, req GenerationRequest) *GenerationResult {
	start := p.now()
	ctx, span := telemetry.StartSpan(ctx, pipelineComponent, "generate",
		telemetry.AttrDocumentType.String(string(req.DocumentType)))

	result, werr := p.generate(ctx, req, start)
	if werr != nil {
		werr = p.errors.Handle(ctx, werr,
			payroll.WithOperation("generate", pipelineComponent),
			payroll.WithActor(req.Actor.ID.String()),
			payroll.WithRequestID(req.RequestID))
		if result == nil {
			result = &GenerationResult{}
		}
		if result.DocumentID != "" {
			werr.Enrich(payroll.WithDocument(result.DocumentID))
		}
		result.Success = false
		result.Error = werr
		telemetry.EndSpan(span, werr)
	} else {
		telemetry.EndSpan(span, nil)
	}
	result.ProcessingTime = p.now().Sub(start)
	if !result.Queued {
		p.recorder.RecordGeneration(ctx, string(req.DocumentType), result.Success, result.ProcessingTime)
	}
	return result
}

func (p *GenerationPipeline) generate(ctx context.Context, req GenerationRequest, start time.Time) (*GenerationResult, *payroll.WorkflowError) {
	if !canOperate(req.Actor) {
		return nil, permissionError(req.Actor, "generate")
	}
	if werr := validateRequest(&req, generationFieldCode); werr != nil {
		return nil, werr
	}
	if err := req.Amounts.Validate(); err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeInvalidPayrollData)
	}
	if w := req.Options.Watermark; w != nil && (w.Opacity < 0 || w.Opacity > 1) {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "watermark opacity must be between 0 and 1",
			payroll.WithField("options.watermark.opacity", "0..1", w.Opacity))
	}
	mode := req.Options.Mode
	if mode == "" {
		mode = payroll.GenerationModeFinal
	}
	if mode == payroll.GenerationModePreview && req.Options.Approval != nil {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "previews cannot be approved inline",
			payroll.WithField("options.approval", "absent for previews", "present"))
	}

	employee, werr := p.employee(ctx, req.EmployeeID, req.DocumentType)
	if werr != nil {
		return nil, werr
	}

	doc, err := payroll.NewPayrollDocument(payroll.NewDocumentParams{
		Type:      req.DocumentType,
		Employee:  employee,
		Period:    req.Period,
		Amounts:   req.Amounts,
		Mode:      mode,
		Quality:   req.Options.Quality,
		Tags:      req.Options.Tags,
		Category:  req.Options.Category,
		Priority:  req.Options.Priority,
		CreatedBy: req.Actor.ID,
		Now:       start,
	})
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeInvalidPayrollData)
	}

	if mode == payroll.GenerationModePreview {
		return p.generatePreview(ctx, req, doc, employee)
	}

	unlockLineage := p.lineages.lock(doc.LineageKey())
	prior, werr := p.checkDuplicate(ctx, doc.LineageKey(), req.Options.ForceRegenerate)
	if werr != nil {
		unlockLineage()
		return nil, werr
	}

	if !p.sem.TryAcquire(1) {
		defer unlockLineage()
		return p.enqueue(ctx, req, employee, doc, prior)
	}
	defer p.sem.Release(1)

	werr = p.create(ctx, doc, prior, req.Actor, req.RequestID)
	unlockLineage()
	if werr != nil {
		return nil, werr
	}
	result := &GenerationResult{DocumentID: doc.DocumentID, Status: doc.Status, Version: doc.Version}

	started := p.engine.Transition(ctx, TransitionRequest{
		DocumentID: doc.DocumentID,
		Target:     payroll.StatusGenerating,
		Actor:      req.Actor,
		Trigger:    payroll.TriggerUserAction,
		Reason:     "generation requested",
		RequestID:  req.RequestID,
	})
	if !started.Success {
		return result, started.Error
	}
	result.Status = payroll.StatusGenerating

	final := p.finishGeneration(ctx, doc.DocumentID, employee, req.Options.Quality, req.Options.Approval,
		req.Actor, req.RequestID, 1, payroll.TriggerUserAction)
	if final.werr != nil {
		result.Status = final.status
		return result, final.werr
	}
	result.Success = true
	result.Status = final.status
	result.File = final.file
	return result, nil
}

func generationFieldCode(field string) payroll.ErrorCode {
	switch {
	case strings.HasPrefix(field, "employee_id"):
		return payroll.ErrCodeInvalidEmployeeData
	case strings.HasPrefix(field, "document_type"):
		return payroll.ErrCodeInvalidDocumentType
	case strings.HasPrefix(field, "period"):
		return payroll.ErrCodeInvalidPeriod
	case strings.HasPrefix(field, "amounts"):
		return payroll.ErrCodeInvalidPayrollData
	default:
		return payroll.ErrCodeMissingRequiredField
	}
}

// employee loads the employee and applies the active and type-specific checks
func (p *GenerationPipeline) employee(ctx context.Context, id uuid.UUID, docType payroll.DocumentType) (*payroll.Employee, *payroll.WorkflowError) {
	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	employee, err := p.directory.FindByID(qctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, payroll.NewWorkflowError(payroll.ErrCodeInvalidEmployeeData, "employee not found",
				payroll.WithField("employee_id", "an existing employee", id))
		}
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	if !employee.Active {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeInvalidEmployeeData, "employee is not active",
			payroll.WithField("employee.active", true, false),
			payroll.WithDetail("reason", string(payroll.ErrCodeEmployeeInactive)))
	}
	if missing := employee.MissingFieldsFor(docType); len(missing) > 0 {
		opts := make([]payroll.ErrorOption, 0, len(missing))
		for _, f := range missing {
			opts = append(opts, payroll.WithField("employee."+f, "required for "+string(docType), ""))
		}
		return nil, payroll.NewWorkflowError(payroll.ErrCodeInvalidEmployeeData,
			fmt.Sprintf("employee record lacks %s required for %s", strings.Join(missing, ", "), docType.DisplayName()),
			opts...)
	}
	return employee, nil
}

// checkDuplicate applies the duplicate policy and returns the document to supersede
func (p *GenerationPipeline) checkDuplicate(ctx context.Context, key payroll.LineageKey, force bool) (*payroll.PayrollDocument, *payroll.WorkflowError) {
	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	existing, err := p.repo.FindLatestInLineage(qctx, key, false)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	if !force {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeDuplicateDocument,
			fmt.Sprintf("document %s already exists for this employee, type and period", existing.DocumentID),
			payroll.WithDetail("existing_document_id", existing.DocumentID),
			payroll.WithDetail("existing_version", fmt.Sprint(existing.Version)))
	}
	return existing, nil
}

// create inserts the new document, superseding prior atomically when set
func (p *GenerationPipeline) create(ctx context.Context, doc, prior *payroll.PayrollDocument, actor payroll.Actor, requestID string) *payroll.WorkflowError {
	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	var err error
	reason := "document created"
	if prior != nil {
		prior.Supersede(doc, p.now())
		err = p.repo.CreateVersion(qctx, prior, doc)
		reason = fmt.Sprintf("regenerated from %s", prior.DocumentID)
	} else {
		err = p.repo.Create(qctx, doc)
	}
	if err != nil {
		return payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	p.engine.RecordCreation(ctx, doc, actor, reason, requestID)
	return nil
}

// enqueue persists a GENERATING placeholder and queues its generation
func (p *GenerationPipeline) enqueue(ctx context.Context, req GenerationRequest, employee *payroll.Employee, doc, prior *payroll.PayrollDocument) (*GenerationResult, *payroll.WorkflowError) {
	placeholder, err := payroll.NewPayrollDocument(payroll.NewDocumentParams{
		Type:          doc.Type,
		Employee:      employee,
		Period:        doc.Period,
		Amounts:       doc.Amounts,
		Mode:          payroll.GenerationModeFinal,
		Quality:       doc.Generation.Quality,
		InitialStatus: payroll.StatusGenerating,
		Tags:          doc.Tags,
		Category:      doc.Category,
		Priority:      doc.Priority,
		CreatedBy:     doc.CreatedBy,
		Now:           p.now(),
	})
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeInternal)
	}
	if werr := p.create(ctx, placeholder, prior, req.Actor, req.RequestID); werr != nil {
		return nil, werr
	}
	result := &GenerationResult{DocumentID: placeholder.DocumentID, Status: placeholder.Status, Version: placeholder.Version}

	task, err := taskqueue.NewTask(placeholder.DocumentID, generationTaskKind, generationTask{
		DocumentID: placeholder.DocumentID,
		ActorID:    req.Actor.ID,
		ActorEmail: req.Actor.Email,
		Roles:      req.Actor.Roles,
		Quality:    placeholder.Generation.Quality,
		Approval:   req.Options.Approval,
		RequestID:  req.RequestID,
	})
	if err == nil {
		err = p.queue.Enqueue(ctx, task)
	}
	if err != nil {
		werr := payroll.NewWorkflowError(payroll.ErrCodeQueueCapacityExceeded, "generation queue cannot accept the request",
			payroll.WithCause(err))
		failed := p.engine.Transition(ctx, TransitionRequest{
			DocumentID: placeholder.DocumentID,
			Target:     payroll.StatusGenerationFailed,
			Actor:      payroll.SystemActor(),
			Trigger:    payroll.TriggerErrorRecovery,
			Reason:     "queue rejected the placeholder",
			RequestID:  req.RequestID,
			Failure:    werr,
		})
		if failed.Success {
			result.Status = payroll.StatusGenerationFailed
		}
		return result, werr
	}

	p.recorder.RecordQueueDepth(ctx, p.queue.Stats().Depth())
	p.logger.Info("Generation queued",
		zap.String("document_id", placeholder.DocumentID),
		zap.Int("queue_depth", p.queue.Stats().Depth()))
	result.Success = true
	result.Queued = true
	return result, nil
}

// generatePreview produces a watermarked preview. Previews wait for capacity
// instead of queueing.
func (p *GenerationPipeline) generatePreview(ctx context.Context, req GenerationRequest, doc *payroll.PayrollDocument, employee *payroll.Employee) (*GenerationResult, *payroll.WorkflowError) {
	actx, cancel := withTimeout(ctx, p.cfg.RenderTimeout)
	err := p.sem.Acquire(actx, 1)
	cancel()
	if err != nil {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeTimeoutExceeded, "no generation capacity became available for the preview",
			payroll.WithCause(err))
	}
	defer p.sem.Release(1)

	if werr := p.create(ctx, doc, nil, req.Actor, req.RequestID); werr != nil {
		return nil, werr
	}
	result := &GenerationResult{DocumentID: doc.DocumentID, Status: doc.Status, Version: doc.Version}

	requested := p.engine.Transition(ctx, TransitionRequest{
		DocumentID: doc.DocumentID,
		Target:     payroll.StatusPreviewRequested,
		Actor:      req.Actor,
		Reason:     "preview requested",
		RequestID:  req.RequestID,
	})
	if !requested.Success {
		return result, requested.Error
	}
	result.Status = payroll.StatusPreviewRequested

	watermark := payroll.DefaultPreviewWatermark
	if req.Options.Watermark != nil {
		watermark = *req.Options.Watermark
		if watermark.Text == "" {
			watermark.Text = payroll.DefaultPreviewWatermark.Text
		}
	}
	quality := payroll.QualityDraft
	if req.Options.Quality != "" {
		quality = req.Options.Quality
	}

	artifact, werr := p.produce(ctx, doc, employee, &watermark, quality, previewKey(doc))
	target := payroll.StatusPreviewGenerated
	if werr == nil {
		expires := p.now().Add(p.cfg.PreviewTTL)
		artifact.Watermark = &watermark
		artifact.ExpiresAt = &expires
	} else {
		target = payroll.StatusGenerationFailed
	}

	res := p.engine.Transition(ctx, TransitionRequest{
		DocumentID: doc.DocumentID,
		Target:     target,
		Actor:      req.Actor,
		Trigger:    payroll.TriggerSystemAction,
		Reason:     "preview rendering finished",
		RequestID:  req.RequestID,
		Artifact:   artifact,
		Failure:    werr,
	})
	if werr != nil {
		if res.Success {
			result.Status = payroll.StatusGenerationFailed
		}
		return result, werr
	}
	if !res.Success {
		p.discard(ctx, artifact)
		return result, res.Error
	}
	p.publish(ctx, doc, artifact)
	result.Success = true
	result.Status = payroll.StatusPreviewGenerated
	result.File = artifact.File
	return result, nil
}

type finishOutcome struct {
	status payroll.DocumentStatus
	file   *payroll.FileMetadata
	werr   *payroll.WorkflowError
}

// finishGeneration renders and stores a GENERATING document, then moves it to
// GENERATED (or APPROVED with inline approval). Render and storage failures move
// it to GENERATION_FAILED for user-triggered runs; queued runs are retried by the queue instead.
func (p *GenerationPipeline) finishGeneration(
	ctx context.Context,
	documentID string,
	employee *payroll.Employee,
	quality payroll.Quality,
	approval *InlineApproval,
	actor payroll.Actor,
	requestID string,
	attempt int,
	trigger payroll.TransitionTrigger,
) finishOutcome {
	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	doc, err := p.repo.FindByDocumentID(qctx, documentID)
	cancel()
	if err != nil {
		return finishOutcome{status: payroll.StatusGenerating, werr: payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)}
	}
	if quality == "" {
		quality = doc.Generation.Quality
	}

	artifact, werr := p.produce(ctx, doc, employee, nil, quality, documentKey(doc))
	if werr != nil {
		if trigger == payroll.TriggerUserAction {
			failed := p.engine.Transition(ctx, TransitionRequest{
				DocumentID: documentID,
				Target:     payroll.StatusGenerationFailed,
				Actor:      actor,
				Trigger:    payroll.TriggerSystemAction,
				Reason:     "generation failed",
				RequestID:  requestID,
				Failure:    werr,
			})
			if failed.Success {
				return finishOutcome{status: payroll.StatusGenerationFailed, werr: werr}
			}
		}
		return finishOutcome{status: payroll.StatusGenerating, werr: werr}
	}
	artifact.Attempts = attempt

	target, comments := payroll.StatusGenerated, ""
	if approval != nil {
		target, comments = payroll.StatusApproved, approval.Comments
	}
	res := p.engine.Transition(ctx, TransitionRequest{
		DocumentID: documentID,
		Target:     target,
		Actor:      actor,
		Trigger:    payroll.TriggerSystemAction,
		Reason:     "generation completed",
		Comments:   comments,
		RequestID:  requestID,
		Artifact:   artifact,
	})
	if !res.Success {
		p.discard(ctx, artifact)
		return finishOutcome{status: payroll.StatusGenerating, werr: res.Error}
	}
	p.publish(ctx, doc, artifact)
	return finishOutcome{status: target, file: artifact.File}
}

// produce renders, validates and stores the PDF
func (p *GenerationPipeline) produce(
	ctx context.Context,
	doc *payroll.PayrollDocument,
	employee *payroll.Employee,
	watermark *payroll.WatermarkConfig,
	quality payroll.Quality,
	key string,
) (*Artifact, *payroll.WorkflowError) {
	start := p.now()

	rctx, cancel := withTimeout(ctx, p.cfg.RenderTimeout)
	rendered, err := p.renderer.RenderDocument(rctx, &rendering.DocumentRenderRequest{
		Document:  doc,
		Employee:  employee,
		Watermark: watermark,
		Quality:   quality,
		Timeout:   p.cfg.RenderTimeout,
	})
	cancel()
	if err != nil {
		return nil, renderFailure(err)
	}
	if werr := ValidatePDF(rendered.PDFData, p.cfg.PDFMinBytes, p.cfg.PDFMaxBytes); werr != nil {
		return nil, werr
	}

	put, werr := p.store(ctx, key, rendered.PDFData)
	if werr != nil {
		return nil, werr
	}
	return &Artifact{
		File: &payroll.FileMetadata{
			Provider: put.provider,
			Path:     put.Key,
			Size:     put.Size,
			Checksum: put.Checksum,
			MimeType: pdfContentType,
			URL:      put.URL,
		},
		Duration: p.now().Sub(start),
	}, nil
}

type storedObject struct {
	*storage.PutResult
	provider string
}

// store writes the object and runs automated recovery when the write fails
func (p *GenerationPipeline) store(ctx context.Context, key string, data []byte) (*storedObject, *payroll.WorkflowError) {
	put, err := p.putOnce(ctx, p.storage, key, data)
	if err == nil {
		return &storedObject{PutResult: put, provider: p.storage.Provider()}, nil
	}

	werr := p.errors.Handle(ctx, storageFailure(err),
		payroll.WithOperation("store", pipelineComponent),
		payroll.WithDetail("storage_key", key))
	var recovered *storedObject
	ok := p.errors.Recover(ctx, werr, func(ctx context.Context, action payroll.RecoveryAction) error {
		switch action.Strategy {
		case payroll.RecoveryRetry:
			var last error
			for i := 0; i < action.MaxAttempts; i++ {
				if err := p.sleep(ctx, action.BackoffDelay); err != nil {
					return err
				}
				put, last = p.putOnce(ctx, p.storage, key, data)
				if last == nil {
					recovered = &storedObject{PutResult: put, provider: p.storage.Provider()}
					return nil
				}
			}
			return last
		case payroll.RecoveryFallback:
			if p.fallback == nil {
				return ErrNoRecoveryHandler
			}
			put, err := p.putOnce(ctx, p.fallback, key, data)
			if err != nil {
				return err
			}
			recovered = &storedObject{PutResult: put, provider: p.fallback.Provider()}
			return nil
		default:
			return ErrNoRecoveryHandler
		}
	})
	if ok {
		return recovered, nil
	}
	return nil, werr
}

func (p *GenerationPipeline) putOnce(ctx context.Context, blobs storage.BlobStorage, key string, data []byte) (*storage.PutResult, error) {
	sctx, cancel := withTimeout(ctx, p.cfg.StorageTimeout)
	defer cancel()
	return blobs.Put(sctx, key, data, pdfContentType)
}

// discard removes a stored file the engine refused to record
func (p *GenerationPipeline) discard(ctx context.Context, a *Artifact) {
	if a == nil || a.File == nil {
		return
	}
	sctx, cancel := withTimeout(context.WithoutCancel(ctx), p.cfg.StorageTimeout)
	defer cancel()
	if err := p.storage.Delete(sctx, a.File.Path); err != nil {
		p.logger.Warn("Failed to discard orphaned file", zap.String("path", a.File.Path), zap.Error(err))
	}
}

func (p *GenerationPipeline) publish(ctx context.Context, doc *payroll.PayrollDocument, a *Artifact) {
	if p.publisher == nil {
		return
	}
	doc.Generation.Mode = payroll.GenerationModeFinal
	if a.ExpiresAt != nil {
		doc.Generation.Mode = payroll.GenerationModePreview
	}
	event := payroll.NewDocumentGeneratedEvent(doc, a.File.Size, a.Duration, p.now())
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to publish domain event", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}

// handleTask generates one queued placeholder
func (p *GenerationPipeline) handleTask(ctx context.Context, task *taskqueue.Task) error {
	var payload generationTask
	if err := task.DecodePayload(&payload); err != nil {
		return taskqueue.Permanent(fmt.Errorf("invalid generation task payload: %w", err))
	}

	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	doc, err := p.repo.FindByDocumentID(qctx, payload.DocumentID)
	cancel()
	if errors.Is(err, shared.ErrNotFound) {
		return taskqueue.Permanent(fmt.Errorf("document %s no longer exists", payload.DocumentID))
	}
	if err != nil {
		return err
	}
	if !doc.IsQueuedPlaceholder() {
		p.logger.Info("Skipping queued generation, document moved on",
			zap.String("document_id", doc.DocumentID),
			zap.String("status", string(doc.Status)),
			zap.Bool("deleted", doc.Deleted))
		return nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	defer p.recorder.RecordQueueDepth(ctx, p.queue.Stats().Depth())

	employee, werr := p.employee(ctx, doc.EmployeeID, doc.Type)
	if werr != nil {
		return p.taskError(werr)
	}

	start := p.now()
	out := p.finishGeneration(ctx, doc.DocumentID, employee, payload.Quality, payload.Approval,
		payload.actor(), payload.RequestID, task.Attempts, payroll.TriggerSystemAction)
	p.recorder.RecordGeneration(ctx, string(doc.Type), out.werr == nil, p.now().Sub(start))
	if out.werr != nil {
		return p.taskError(out.werr)
	}
	return nil
}

func (p *GenerationPipeline) taskError(werr *payroll.WorkflowError) error {
	if !werr.Retryable {
		return taskqueue.Permanent(werr)
	}
	return werr
}

// onDeadLetter moves the placeholder of an exhausted task to GENERATION_FAILED
func (p *GenerationPipeline) onDeadLetter(ctx context.Context, task *taskqueue.Task, err error) {
	var payload generationTask
	if err := task.DecodePayload(&payload); err != nil {
		p.logger.Warn("Dead-lettered generation task has an unreadable payload",
			zap.String("task_id", task.ID), zap.Error(err))
	}
	documentID := payload.DocumentID
	if documentID == "" {
		documentID = task.ID
	}

	failure := payroll.AsWorkflowError(err, payroll.ErrCodePDFGenerationFailed)
	res := p.engine.Transition(context.WithoutCancel(ctx), TransitionRequest{
		DocumentID: documentID,
		Target:     payroll.StatusGenerationFailed,
		Actor:      payroll.SystemActor(),
		Trigger:    payroll.TriggerErrorRecovery,
		Reason:     fmt.Sprintf("generation abandoned after %d attempts", task.Attempts),
		RequestID:  payload.RequestID,
		Failure:    failure,
	})
	if !res.Success {
		p.logger.Error("Failed to mark dead-lettered generation as failed",
			zap.String("document_id", documentID),
			zap.String("code", string(res.Error.Code)))
	}
}

// CancelQueuedGeneration cancels a placeholder whose generation has not started
func (p *GenerationPipeline) CancelQueuedGeneration(ctx context.Context, documentID string, actor payroll.Actor, requestID string) (*TransitionResult, error) {
	if !canOperate(actor) {
		return nil, p.errors.Handle(ctx, permissionError(actor, "cancel_generation"), payroll.WithDocument(documentID))
	}
	if _, err := p.queue.Cancel(ctx, documentID); err != nil {
		var werr *payroll.WorkflowError
		switch {
		case errors.Is(err, taskqueue.ErrTaskNotFound):
			werr = payroll.NewWorkflowError(payroll.ErrCodeOperationNotCancellable, "no queued generation exists for this document")
		case errors.Is(err, taskqueue.ErrTaskNotCancellable):
			werr = payroll.NewWorkflowError(payroll.ErrCodeOperationNotCancellable, "generation has already started or finished")
		default:
			werr = payroll.AsWorkflowError(err, payroll.ErrCodeInternal)
		}
		return nil, p.errors.Handle(ctx, werr,
			payroll.WithOperation("cancel_generation", pipelineComponent),
			payroll.WithDocument(documentID),
			payroll.WithRequestID(requestID))
	}

	res := p.engine.Transition(ctx, TransitionRequest{
		DocumentID: documentID,
		Target:     payroll.StatusGenerationFailed,
		Actor:      actor,
		Trigger:    payroll.TriggerUserAction,
		Reason:     "queued generation cancelled",
		RequestID:  requestID,
		Failure:    payroll.NewWorkflowError(payroll.ErrCodeOperationCancelled, "queued generation cancelled by "+actor.ID.String()),
	})
	p.recorder.RecordQueueDepth(ctx, p.queue.Stats().Depth())
	return res, nil
}

// ResumePending re-enqueues GENERATING placeholders that have no active task
func (p *GenerationPipeline) ResumePending(ctx context.Context) (int, error) {
	qctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	docs, err := p.repo.FindQueuedPlaceholders(qctx, p.cfg.QueueCapacity)
	cancel()
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range docs {
		doc := &docs[i]
		if existing, err := p.queue.Get(ctx, doc.DocumentID); err == nil && existing.Status.IsActive() {
			continue
		}
		task, err := taskqueue.NewTask(doc.DocumentID, generationTaskKind, generationTask{
			DocumentID: doc.DocumentID,
			ActorID:    doc.CreatedBy,
			Roles:      []payroll.Role{payroll.RoleSystem},
			Quality:    doc.Generation.Quality,
		})
		if err != nil {
			return resumed, err
		}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			if errors.Is(err, taskqueue.ErrQueueFull) {
				p.logger.Warn("Generation queue full while resuming placeholders", zap.Int("resumed", resumed))
				break
			}
			return resumed, err
		}
		resumed++
	}
	p.recorder.RecordQueueDepth(ctx, p.queue.Stats().Depth())
	return resumed, nil
}

func documentKey(doc *payroll.PayrollDocument) string {
	return fmt.Sprintf("documents/%s/%s/%s-v%d.pdf", strings.ToLower(string(doc.Type)), doc.Period.ID(), doc.DocumentID, doc.Version)
}

func previewKey(doc *payroll.PayrollDocument) string {
	return fmt.Sprintf("previews/%s/%s.pdf", doc.Period.ID(), doc.DocumentID)
}

func renderFailure(err error) *payroll.WorkflowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return payroll.NewWorkflowError(payroll.ErrCodeTimeoutExceeded, "rendering timed out", payroll.WithCause(err))
	}
	var re *rendering.RenderError
	if errors.As(err, &re) {
		switch re.Code {
		case rendering.ErrCodeRenderTimeout:
			return payroll.NewWorkflowError(payroll.ErrCodeTimeoutExceeded, re.Message, payroll.WithCause(err))
		case rendering.ErrCodeUnavailable:
			return payroll.NewWorkflowError(payroll.ErrCodeRendererUnavailable, re.Message, payroll.WithCause(err))
		}
		return payroll.NewWorkflowError(payroll.ErrCodePDFGenerationFailed, re.Message, payroll.WithCause(err))
	}
	return payroll.AsWorkflowError(err, payroll.ErrCodePDFGenerationFailed)
}

func storageFailure(err error) *payroll.WorkflowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return payroll.NewWorkflowError(payroll.ErrCodeTimeoutExceeded, "storage write timed out", payroll.WithCause(err))
	}
	var se *storage.StorageError
	if errors.As(err, &se) && se.Code == storage.ErrCodeUnavailable {
		return payroll.NewWorkflowError(payroll.ErrCodeStorageServiceUnavailable, "storage is unavailable", payroll.WithCause(err))
	}
	return payroll.NewWorkflowError(payroll.ErrCodeStorageWriteFailed, "failed to store document", payroll.WithCause(err))
}
