package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const engineComponent = "transition_engine"

// Artifact is a produced file handed to the engine by the generation pipeline
type Artifact struct {
	File      *payroll.FileMetadata
	Duration  time.Duration
	Attempts  int
	Watermark *payroll.WatermarkConfig
	ExpiresAt *time.Time
}

// TransitionRequest asks the engine to move one document to a target status
type TransitionRequest struct {
	DocumentID string
	Target     payroll.DocumentStatus
	Actor      payroll.Actor
	Trigger    payroll.TransitionTrigger
	Reason     string
	Comments   string
	Force      bool
	Recipients []string
	TrackingID string
	RequestID  string
	Artifact   *Artifact
	Failure    *payroll.WorkflowError
}

// TransitionResult is the outcome of one engine call. The engine never returns
// an error: failures are reported with Success false.
type TransitionResult struct {
	Success             bool                   `json:"success"`
	DocumentID          string                 `json:"document_id"`
	PreviousStatus      payroll.DocumentStatus `json:"previous_status,omitempty"`
	NewStatus           payroll.DocumentStatus `json:"new_status,omitempty"`
	Error               *payroll.WorkflowError `json:"error,omitempty"`
	AuditID             uuid.UUID              `json:"audit_id"`
	ProcessingTime      time.Duration          `json:"processing_time"`
	SideEffectsExecuted []string               `json:"side_effects_executed"`
	ValidationWarnings  []string               `json:"validation_warnings"`
}

// BatchTransitionResult splits per-document outcomes
type BatchTransitionResult struct {
	Successful []*TransitionResult `json:"successful"`
	Failed     []*TransitionResult `json:"failed"`
}

// TransitionEngineConfig holds engine limits
type TransitionEngineConfig struct {
	StoreTimeout time.Duration
}

// TransitionEngine validates and executes document status changes. Every call
// writes exactly one audit record.
type TransitionEngine struct {
	repo      payroll.DocumentRepository
	audit     payroll.AuditTrail
	errors    *ErrorHandler
	publisher shared.EventPublisher
	recorder  MetricsRecorder
	cfg       TransitionEngineConfig
	logger    *zap.Logger
	now       func() time.Time

	locks keyedLocks[string] // by document id
}

// TransitionEngineOption configures a TransitionEngine
type TransitionEngineOption func(*TransitionEngine)

// WithEngineClock replaces the time source
func WithEngineClock(now func() time.Time) TransitionEngineOption {
	return func(e *TransitionEngine) { e.now = now }
}

// WithEngineRecorder sets the metrics recorder
func WithEngineRecorder(r MetricsRecorder) TransitionEngineOption {
	return func(e *TransitionEngine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithEnginePublisher sets the domain event publisher
func WithEnginePublisher(p shared.EventPublisher) TransitionEngineOption {
	return func(e *TransitionEngine) { e.publisher = p }
}

// NewTransitionEngine creates a TransitionEngine
func NewTransitionEngine(
	repo payroll.DocumentRepository,
	audit payroll.AuditTrail,
	errorHandler *ErrorHandler,
	cfg TransitionEngineConfig,
	logger *zap.Logger,
	opts ...TransitionEngineOption,
) *TransitionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errorHandler == nil {
		errorHandler = NewErrorHandler(AlertConfig{}, nil, logger)
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	e := &TransitionEngine{
		repo:     repo,
		audit:    audit,
		errors:   errorHandler,
		recorder: noopRecorder{},
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt carries the state of one engine call up to the audit write
type attempt struct {
	operation   string
	documentID  string
	actor       payroll.Actor
	trigger     payroll.TransitionTrigger
	reason      string
	comments    string
	forced      bool
	requestID   string
	from        payroll.DocumentStatus
	to          payroll.DocumentStatus
	doc         *payroll.PayrollDocument
	impact      *payroll.BusinessImpact
	sideEffects []string
	warnings    []string
}

// Transition moves one document to req.Target
func (e *TransitionEngine) Transition(ctx context.Context, req TransitionRequest) *TransitionResult {
	att := &attempt{
		operation:  "transition",
		documentID: req.DocumentID,
		actor:      req.Actor,
		trigger:    req.Trigger,
		reason:     req.Reason,
		comments:   req.Comments,
		forced:     req.Force,
		requestID:  req.RequestID,
		to:         req.Target,
	}
	return e.execute(ctx, att, func(ctx context.Context) *payroll.WorkflowError {
		return e.transition(ctx, att, req)
	})
}

// BatchTransition applies Transition to each id independently and never stops early
func (e *TransitionEngine) BatchTransition(ctx context.Context, documentIDs []string, target payroll.DocumentStatus, template TransitionRequest) *BatchTransitionResult {
	out := &BatchTransitionResult{Successful: []*TransitionResult{}, Failed: []*TransitionResult{}}
	for _, id := range documentIDs {
		req := template
		req.DocumentID = id
		req.Target = target
		res := e.Transition(ctx, req)
		if res.Success {
			out.Successful = append(out.Successful, res)
		} else {
			out.Failed = append(out.Failed, res)
		}
	}
	return out
}

// SoftDelete flags the document as deleted and audits the change with from = to
func (e *TransitionEngine) SoftDelete(ctx context.Context, documentID string, actor payroll.Actor, reason, requestID string) *TransitionResult {
	att := &attempt{
		operation:  "soft_delete",
		documentID: documentID,
		actor:      actor,
		trigger:    payroll.TriggerUserAction,
		reason:     reason,
		requestID:  requestID,
	}
	return e.execute(ctx, att, func(ctx context.Context) *payroll.WorkflowError {
		if !canOperate(actor) {
			return permissionError(actor, "soft_delete").Apply(payroll.WithDocument(documentID))
		}
		doc, werr := e.load(ctx, att)
		if werr != nil {
			return werr
		}
		att.to = doc.Status
		at := e.now()
		if err := doc.SoftDelete(actor.ID, at); err != nil {
			return payroll.AsWorkflowError(err, payroll.ErrCodeInvalidStatusTransition)
		}
		att.sideEffects = append(att.sideEffects, "soft_deleted")
		att.impact = &payroll.BusinessImpact{Level: payroll.ImpactHigh, Category: "deletion", Description: "document removed from active records"}
		return e.persist(ctx, doc)
	})
}

// ExpirePreview drops the file of an expired preview. The status is unchanged.
func (e *TransitionEngine) ExpirePreview(ctx context.Context, documentID string, actor payroll.Actor) *TransitionResult {
	att := &attempt{
		operation:  "expire_preview",
		documentID: documentID,
		actor:      actor,
		trigger:    payroll.TriggerScheduled,
		reason:     "preview expired",
	}
	return e.execute(ctx, att, func(ctx context.Context) *payroll.WorkflowError {
		doc, werr := e.load(ctx, att)
		if werr != nil {
			return werr
		}
		att.to = doc.Status
		if !doc.IsPreview() || !doc.IsPreviewExpired(e.now()) {
			return payroll.NewWorkflowError(payroll.ErrCodeInvalidStatusTransition, "document is not an expired preview",
				payroll.WithDocument(documentID))
		}
		doc.File = nil
		doc.Touch(e.now())
		att.sideEffects = append(att.sideEffects, "preview_file_released")
		return e.persist(ctx, doc)
	})
}

// RecordCreation audits the creation of a document (from status is empty)
func (e *TransitionEngine) RecordCreation(ctx context.Context, doc *payroll.PayrollDocument, actor payroll.Actor, reason, requestID string) uuid.UUID {
	record := &payroll.StatusChangeAuditRecord{
		ID:         payroll.NewAuditRecordID(),
		DocumentID: doc.DocumentID,
		ToStatus:   doc.Status,
		Trigger:    payroll.TriggerUserAction,
		ActorID:    actor.ID,
		Timestamp:  e.now(),
		Reason:     reason,
		Success:    true,
		RequestID:  requestID,
	}
	if doc.Version > 1 {
		record.BusinessImpact = &payroll.BusinessImpact{Level: payroll.ImpactMedium, Category: "regeneration",
			Description: fmt.Sprintf("version %d supersedes version %d", doc.Version, doc.Version-1)}
	}
	e.appendAudit(ctx, record)
	return record.ID
}

func (e *TransitionEngine) execute(ctx context.Context, att *attempt, run func(ctx context.Context) *payroll.WorkflowError) *TransitionResult {
	start := e.now()
	ctx, span := telemetry.StartSpan(ctx, engineComponent, att.operation,
		telemetry.AttrToStatus.String(string(att.to)))

	if att.trigger == "" {
		att.trigger = payroll.TriggerUserAction
	}

	unlock := e.lock(att.documentID)
	werr := e.safeRun(ctx, run)
	if werr != nil {
		werr = e.errors.Handle(ctx, werr,
			payroll.WithOperation(att.operation, engineComponent),
			payroll.WithDocument(att.documentID),
			payroll.WithActor(att.actor.ID.String()),
			payroll.WithRequestID(att.requestID))
	}
	result := e.finish(ctx, att, werr, start)
	unlock()

	if werr != nil {
		telemetry.EndSpan(span, werr)
	} else {
		telemetry.EndSpan(span, nil)
	}
	return result
}

// safeRun converts panics into INTERNAL_ERROR so the audit step is always reached
func (e *TransitionEngine) safeRun(ctx context.Context, run func(ctx context.Context) *payroll.WorkflowError) (werr *payroll.WorkflowError) {
	defer func() {
		if r := recover(); r != nil {
			werr = payroll.NewWorkflowError(payroll.ErrCodeInternal, fmt.Sprintf("transition panicked: %v", r))
		}
	}()
	return run(ctx)
}

func (e *TransitionEngine) finish(ctx context.Context, att *attempt, werr *payroll.WorkflowError, start time.Time) *TransitionResult {
	completed := e.now()
	elapsed := completed.Sub(start)

	record := &payroll.StatusChangeAuditRecord{
		ID:             payroll.NewAuditRecordID(),
		DocumentID:     att.documentID,
		FromStatus:     att.from,
		ToStatus:       att.to,
		Trigger:        att.trigger,
		ActorID:        att.actor.ID,
		Timestamp:      completed,
		Reason:         att.reason,
		Comments:       att.comments,
		ProcessingTime: elapsed,
		Success:        werr == nil,
		Forced:         att.forced,
		BusinessImpact: att.impact,
		RequestID:      att.requestID,
	}
	if werr != nil {
		record.Error = werr.ToAuditDetail()
	}
	if !e.appendAudit(ctx, record) {
		att.warnings = append(att.warnings, "audit record could not be written")
	}

	result := &TransitionResult{
		Success:             werr == nil,
		DocumentID:          att.documentID,
		PreviousStatus:      att.from,
		AuditID:             record.ID,
		ProcessingTime:      elapsed,
		SideEffectsExecuted: att.sideEffects,
		ValidationWarnings:  att.warnings,
	}
	if result.SideEffectsExecuted == nil {
		result.SideEffectsExecuted = []string{}
	}
	if result.ValidationWarnings == nil {
		result.ValidationWarnings = []string{}
	}
	if werr != nil {
		result.Error = werr
	} else {
		result.NewStatus = att.to
	}

	e.recorder.RecordTransition(ctx, string(att.from), string(att.to), string(att.trigger), werr == nil, elapsed)
	if werr == nil && att.doc != nil && att.operation == "transition" {
		e.publish(ctx, payroll.NewDocumentStatusChangedEvent(att.doc, att.from, att.trigger, att.actor.ID, att.forced, completed))
	}
	return result
}

// appendAudit writes the record on a context that survives caller cancellation
func (e *TransitionEngine) appendAudit(ctx context.Context, record *payroll.StatusChangeAuditRecord) bool {
	actx, cancel := withTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	if err := e.audit.Append(actx, record); err != nil {
		e.errors.Handle(ctx, payroll.NewWorkflowError(payroll.ErrCodeAuditWriteFailed, "failed to append audit record",
			payroll.WithCause(err),
			payroll.WithDocument(record.DocumentID),
			payroll.WithOperation("append_audit", engineComponent)))
		return false
	}
	return true
}

func (e *TransitionEngine) transition(ctx context.Context, att *attempt, req TransitionRequest) *payroll.WorkflowError {
	if !req.Target.IsValid() {
		return payroll.NewWorkflowError(payroll.ErrCodeInvalidStatusTransition, "unknown target status",
			payroll.WithField("target_status", "a known document status", req.Target))
	}
	if !att.trigger.IsValid() {
		return payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "unknown transition trigger",
			payroll.WithField("trigger", "USER_ACTION, SYSTEM_ACTION, SCHEDULED or ERROR_RECOVERY", att.trigger))
	}
	if !req.Actor.IsAuthenticated() {
		return payroll.NewWorkflowError(payroll.ErrCodeUnauthorizedStatusChange, "status changes require an authenticated actor")
	}
	if !canOperate(req.Actor) {
		return payroll.NewWorkflowError(payroll.ErrCodeUnauthorizedStatusChange, "actor may not change document statuses")
	}
	if req.Force && !req.Actor.IsAdmin() {
		return payroll.NewWorkflowError(payroll.ErrCodeUnauthorizedStatusChange, "forced transitions require the payroll_admin role",
			payroll.WithField("force", "payroll_admin role", strings.Join(rolesOf(req.Actor), ",")))
	}

	doc, werr := e.load(ctx, att)
	if werr != nil {
		return werr
	}

	if !req.Force && !payroll.IsValidTransition(doc.Status, req.Target) {
		allowed := doc.Status.AllowedTransitions()
		names := make([]string, len(allowed))
		for i, s := range allowed {
			names[i] = string(s)
		}
		return payroll.NewWorkflowError(payroll.ErrCodeInvalidStatusTransition,
			fmt.Sprintf("transition %s -> %s is not allowed", doc.Status, req.Target),
			payroll.WithField("target_status", strings.Join(names, ","), req.Target),
			payroll.WithDetail("allowed_transitions", strings.Join(names, ",")),
			payroll.WithDetail("current_status", string(doc.Status)))
	}

	att.impact = impactFor(req.Target)
	if req.Force {
		att.impact = &payroll.BusinessImpact{Level: payroll.ImpactCritical, Category: "administrative_correction",
			Description: fmt.Sprintf("forced %s -> %s", doc.Status, req.Target)}
		if !payroll.IsValidTransition(doc.Status, req.Target) {
			att.warnings = append(att.warnings, fmt.Sprintf("transition graph bypassed: %s -> %s is not a listed edge", doc.Status, req.Target))
		}
	}

	at := e.now()
	effects, werr := applySideEffects(doc, req, at)
	if werr != nil {
		return werr
	}
	att.sideEffects = effects

	doc.ApplyStatus(req.Target, at)
	if err := doc.Validate(); err != nil {
		return payroll.AsWorkflowError(err, payroll.ErrCodeInvalidPayrollData)
	}
	if werr := e.persist(ctx, doc); werr != nil {
		return werr
	}
	return nil
}

// load resolves the current document and status
func (e *TransitionEngine) load(ctx context.Context, att *attempt) (*payroll.PayrollDocument, *payroll.WorkflowError) {
	if strings.TrimSpace(att.documentID) == "" {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "document id is required",
			payroll.WithField("document_id", "non-empty", ""))
	}
	qctx, cancel := withTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	doc, err := e.repo.FindByDocumentID(qctx, att.documentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, payroll.NewWorkflowError(payroll.ErrCodeCurrentStatusUnknown,
				"current status cannot be resolved: document not found", payroll.WithCause(err))
		}
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	if !doc.Status.IsValid() {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeCurrentStatusUnknown,
			fmt.Sprintf("stored status %q is not part of the taxonomy", doc.Status))
	}
	att.from = doc.Status
	if doc.Deleted {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeDocumentDeleted, "document has been deleted")
	}
	att.doc = doc
	return doc, nil
}

func (e *TransitionEngine) persist(ctx context.Context, doc *payroll.PayrollDocument) *payroll.WorkflowError {
	qctx, cancel := withTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if err := e.repo.Update(qctx, doc); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return payroll.NewWorkflowError(payroll.ErrCodeDatabaseQueryFailed,
				"document was modified concurrently", payroll.WithCause(err))
		}
		return payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	return nil
}

func (e *TransitionEngine) publish(ctx context.Context, event shared.DomainEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish domain event", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}

// lock serializes calls on one document so its audit records follow completion order
func (e *TransitionEngine) lock(documentID string) func() {
	return e.locks.lock(documentID)
}

func rolesOf(actor payroll.Actor) []string {
	out := make([]string, len(actor.Roles))
	for i, r := range actor.Roles {
		out[i] = string(r)
	}
	return out
}

func impactFor(target payroll.DocumentStatus) *payroll.BusinessImpact {
	switch target {
	case payroll.StatusSent:
		return &payroll.BusinessImpact{Level: payroll.ImpactHigh, Category: "distribution"}
	case payroll.StatusApproved, payroll.StatusApprovedForGeneration:
		return &payroll.BusinessImpact{Level: payroll.ImpactMedium, Category: "approval"}
	case payroll.StatusArchived:
		return &payroll.BusinessImpact{Level: payroll.ImpactMedium, Category: "retention"}
	case payroll.StatusGenerationFailed:
		return &payroll.BusinessImpact{Level: payroll.ImpactMedium, Category: "generation"}
	default:
		return nil
	}
}
